package repository

import (
	"context"
	"errors"
	"time"

	"schoolhub/backend/internal/session/domain"
)

// ErrSessionNotActive is returned by Elevate when the session is missing, revoked or expired.
var ErrSessionNotActive = errors.New("session not active")

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	// Elevate sets assurance to elevated and appends method to the history of a live session.
	Elevate(ctx context.Context, id string, method domain.AuthMethod) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
