package domain

import "time"

// TrustedDevice binds a user and device fingerprint to a trust expiry.
// A record is inert once TrustedUntil has passed, whatever Active says.
type TrustedDevice struct {
	ID           string
	UserID       string
	Fingerprint  string
	Label        string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	TrustedUntil time.Time
	Active       bool
}

// IsEffectivelyTrusted reports whether the record currently exempts the device from elevation.
func (d *TrustedDevice) IsEffectivelyTrusted(now time.Time) bool {
	return d != nil && d.Active && now.Before(d.TrustedUntil)
}
