package repository

import (
	"context"

	"schoolhub/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

// ContactRepository defines persistence for user contact values.
type ContactRepository interface {
	GetContact(ctx context.Context, userID string, kind domain.ContactKind) (*domain.Contact, error)
	CreateContact(ctx context.Context, c *domain.Contact) error
	UpdateContact(ctx context.Context, c *domain.Contact) error
}
