package repository

import (
	"context"

	"schoolhub/backend/internal/identity/domain"
)

// Repository defines persistence for password credentials.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
