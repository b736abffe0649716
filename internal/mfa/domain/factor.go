package domain

import "time"

// Kind is the type of second factor.
type Kind string

const (
	KindTOTP  Kind = "totp"
	KindPhone Kind = "phone-otp"
)

// Valid reports whether k is a known factor kind.
func (k Kind) Valid() bool {
	return k == KindTOTP || k == KindPhone
}

// Status is the enrollment status of a factor. A factor moves pending -> verified exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
)

// Factor is a registered second-authentication method for a user.
// Secret is the base32 TOTP shared secret; Phone is the E.164 number for SMS factors.
type Factor struct {
	ID        string
	UserID    string
	Kind      Kind
	Status    Status
	Secret    string
	Phone     string
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Verified reports whether the factor completed enrollment.
func (f *Factor) Verified() bool {
	return f != nil && f.Status == StatusVerified
}

// FactorSet groups a user's factors. TOTP and Phone hold verified factors only; All holds every factor.
type FactorSet struct {
	TOTP  []*Factor
	Phone []*Factor
	All   []*Factor
}

// NewFactorSet builds a FactorSet from a flat list.
func NewFactorSet(factors []*Factor) *FactorSet {
	set := &FactorSet{All: factors}
	for _, f := range factors {
		if !f.Verified() {
			continue
		}
		switch f.Kind {
		case KindTOTP:
			set.TOTP = append(set.TOTP, f)
		case KindPhone:
			set.Phone = append(set.Phone, f)
		}
	}
	return set
}

// Verified returns every verified factor, TOTP before phone.
func (s *FactorSet) Verified() []*Factor {
	if s == nil {
		return nil
	}
	out := make([]*Factor, 0, len(s.TOTP)+len(s.Phone))
	out = append(out, s.TOTP...)
	return append(out, s.Phone...)
}

// Find returns the factor with id from All, or nil.
func (s *FactorSet) Find(id string) *Factor {
	if s == nil {
		return nil
	}
	for _, f := range s.All {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Enrollment is returned when a factor is created. Secret, URI and Image are set for TOTP only;
// Image is a PNG data URL of the otpauth QR code.
type Enrollment struct {
	FactorID string
	Kind     Kind
	Secret   string
	URI      string
	Image    string
}
