package repository

import (
	"context"
	"time"

	"schoolhub/backend/internal/mfa/domain"
)

// ChallengeRepository defines persistence for MFA challenges.
type ChallengeRepository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	Delete(ctx context.Context, id string) error
	// DeleteByFactor removes every outstanding challenge for the factor.
	DeleteByFactor(ctx context.Context, factorID string) error
}

// FactorRepository defines persistence for enrolled factors.
type FactorRepository interface {
	Create(ctx context.Context, f *domain.Factor) error
	GetByID(ctx context.Context, id string) (*domain.Factor, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Factor, error)
	// MarkVerified moves a pending factor to verified. It reports false when the factor
	// was not pending (already verified or missing).
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// DefaultChallengeTTL is how long an issued challenge stays verifiable.
const DefaultChallengeTTL = 5 * time.Minute
