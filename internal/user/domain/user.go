package domain

import (
	"errors"
	"time"
)

// Role is a school role. Elevation policy and device-trust TTL are decided per role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleParent, RoleStudent:
		return true
	}
	return false
}

// User is the core user entity.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !u.Role.Valid() {
		return errors.New("role is invalid")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// ContactKind names a contact field kept on the user profile.
type ContactKind string

const ContactPhone ContactKind = "phone"

// Contact is one contact value for a user. There is at most one row per (UserID, Kind).
type Contact struct {
	ID        string
	UserID    string
	Kind      ContactKind
	Value     string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
