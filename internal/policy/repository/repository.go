package repository

import (
	"context"

	"schoolhub/backend/internal/policy/domain"
)

// Repository defines persistence for elevation policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	List(ctx context.Context) ([]*domain.Policy, error)
	GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
}
