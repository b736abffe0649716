package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"schoolhub/backend/internal/mfa/domain"
)

// PostgresChallengeRepository stores challenges in mfa_challenges.
type PostgresChallengeRepository struct {
	db *sql.DB
}

// NewPostgresChallengeRepository returns a challenge repository that uses the given db.
func NewPostgresChallengeRepository(db *sql.DB) *PostgresChallengeRepository {
	return &PostgresChallengeRepository{db: db}
}

// Create persists the challenge. The challenge must have ID set.
func (r *PostgresChallengeRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, factor_id, user_id, session_id, kind, code_hash, delivery, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.FactorID, c.UserID, c.SessionID, string(c.Kind), c.CodeHash, string(c.Delivery), c.ExpiresAt, c.CreatedAt)
	return err
}

// GetByID returns the challenge for id, or nil if not found.
func (r *PostgresChallengeRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	var (
		c              domain.Challenge
		kind, delivery string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, factor_id, user_id, session_id, kind, code_hash, delivery, expires_at, created_at
		FROM mfa_challenges WHERE id = $1`, id).
		Scan(&c.ID, &c.FactorID, &c.UserID, &c.SessionID, &kind, &c.CodeHash, &delivery, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Kind = domain.Kind(kind)
	c.Delivery = domain.Delivery(delivery)
	return &c, nil
}

// Delete removes the challenge by id.
func (r *PostgresChallengeRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	return err
}

// DeleteByFactor removes every challenge for factorID.
func (r *PostgresChallengeRepository) DeleteByFactor(ctx context.Context, factorID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE factor_id = $1`, factorID)
	return err
}

// PostgresFactorRepository stores factors in mfa_factors.
type PostgresFactorRepository struct {
	db *sql.DB
}

// NewPostgresFactorRepository returns a factor repository that uses the given db.
func NewPostgresFactorRepository(db *sql.DB) *PostgresFactorRepository {
	return &PostgresFactorRepository{db: db}
}

const factorColumns = `id, user_id, kind, status, secret, phone, label, created_at, updated_at`

// Create persists the factor. The factor must have ID set.
func (r *PostgresFactorRepository) Create(ctx context.Context, f *domain.Factor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_factors (`+factorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.UserID, string(f.Kind), string(f.Status), f.Secret, f.Phone, f.Label, f.CreatedAt, f.UpdatedAt)
	return err
}

// GetByID returns the factor for id, or nil if not found.
func (r *PostgresFactorRepository) GetByID(ctx context.Context, id string) (*domain.Factor, error) {
	f, err := scanFactor(r.db.QueryRowContext(ctx, `SELECT `+factorColumns+` FROM mfa_factors WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// ListByUser returns the user's factors ordered by creation time.
func (r *PostgresFactorRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Factor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+factorColumns+` FROM mfa_factors WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Factor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkVerified sets status to verified only when the factor is pending.
func (r *PostgresFactorRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, string(domain.StatusVerified), at, string(domain.StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes the factor by id. Challenges cascade.
func (r *PostgresFactorRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFactor(row rowScanner) (*domain.Factor, error) {
	var (
		f            domain.Factor
		kind, status string
	)
	if err := row.Scan(&f.ID, &f.UserID, &kind, &status, &f.Secret, &f.Phone, &f.Label, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Kind = domain.Kind(kind)
	f.Status = domain.Status(status)
	return &f, nil
}
