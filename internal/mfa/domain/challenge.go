package domain

import "time"

// Delivery is the dispatch outcome recorded for a challenge.
type Delivery string

const (
	DeliverySent        Delivery = "sent"
	DeliveryFailed      Delivery = "failed"
	DeliveryRateLimited Delivery = "rate-limited"
)

// Challenge is a single verification window for one factor, bound to the session that requested it.
// Phone challenges carry the hash of the dispatched OTP; TOTP challenges carry no code material.
type Challenge struct {
	ID        string
	FactorID  string
	UserID    string
	SessionID string
	Kind      Kind
	CodeHash  string
	Delivery  Delivery
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the challenge can no longer be verified at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
