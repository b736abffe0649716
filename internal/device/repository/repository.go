package repository

import (
	"context"
	"time"

	"schoolhub/backend/internal/device/domain"
)

// Repository defines persistence for trusted device records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.TrustedDevice, error)
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error)
	// Upsert creates the record or, when one exists for the user and fingerprint, reactivates it
	// with the new label and expiry. d.ID and d.CreatedAt are set to the stored values.
	Upsert(ctx context.Context, d *domain.TrustedDevice) error
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
	DeactivateAllForUser(ctx context.Context, userID string) (int, error)
}
