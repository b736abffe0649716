package domain

import "time"

// Assurance is the trust tier of a session.
type Assurance string

const (
	AssuranceBase     Assurance = "base"
	AssuranceElevated Assurance = "elevated"
)

// AuthMethod is one entry of a session's authentication history.
type AuthMethod struct {
	Method   string    `json:"method"`
	FactorID string    `json:"factor_id,omitempty"`
	At       time.Time `json:"at"`
}

const (
	MethodPassword = "password"
	MethodTOTP     = "totp"
	MethodPhoneOTP = "phone-otp"
)

// Session represents one authenticated browser or device context.
// Assurance only moves base -> elevated while the session lives; revocation ends it.
type Session struct {
	ID         string
	UserID     string
	DeviceID   string
	Assurance  Assurance
	Methods    []AuthMethod
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil when not revoked
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

// Active reports whether the session is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Elevated reports whether the session carries elevated assurance.
func (s *Session) Elevated() bool {
	return s != nil && s.Assurance == AssuranceElevated
}
