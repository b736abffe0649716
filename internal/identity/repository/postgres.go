package repository

import (
	"context"
	"database/sql"
	"errors"

	"schoolhub/backend/internal/identity/domain"
)

// PostgresRepository stores credentials in the identities table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserID returns the credential for userID, or nil if not found.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*domain.Identity, error) {
	var i domain.Identity
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, password_hash, created_at FROM identities WHERE user_id = $1`, userID).
		Scan(&i.ID, &i.UserID, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &i, nil
}

// Create persists the credential. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		i.ID, i.UserID, i.PasswordHash, i.CreatedAt)
	return err
}
