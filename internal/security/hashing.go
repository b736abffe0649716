package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. Plaintext passwords are never logged or stored.
type Hasher struct {
	Cost int
	// dummy is compared against when the account does not exist, so unknown
	// emails cost the same as wrong passwords.
	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's bounds.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	dummy, _ := bcrypt.GenerateFromPassword([]byte("schoolhub-dummy-password"), cost)
	return &Hasher{Cost: cost, dummy: dummy}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Matches reports whether password matches hash. An empty hash burns a dummy comparison and returns false.
func (h *Hasher) Matches(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
