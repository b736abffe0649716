package domain

import "time"

// Identity is a user's local password credential.
type Identity struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}
