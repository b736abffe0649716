package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"schoolhub/backend/internal/device/domain"
)

const deviceColumns = `id, user_id, fingerprint, label, created_at, last_used_at, trusted_until, active`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a trusted device repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.TrustedDevice, error) {
	var d domain.TrustedDevice
	if err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.Label, &d.CreatedAt, &d.LastUsedAt, &d.TrustedUntil, &d.Active); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetByID returns the record for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.TrustedDevice, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM trusted_devices WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// GetByUserAndFingerprint returns the record for the user and fingerprint, or nil if not found.
func (r *PostgresRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE user_id = $1 AND fingerprint = $2`, userID, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// ListByUser returns the user's records, most recently used first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE user_id = $1 ORDER BY last_used_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Upsert relies on the unique (user_id, fingerprint) constraint.
func (r *PostgresRepository) Upsert(ctx context.Context, d *domain.TrustedDevice) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO trusted_devices (id, user_id, fingerprint, label, created_at, last_used_at, trusted_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		ON CONFLICT (user_id, fingerprint) DO UPDATE
		SET label = EXCLUDED.label, last_used_at = EXCLUDED.last_used_at,
		    trusted_until = EXCLUDED.trusted_until, active = true
		RETURNING id, created_at`,
		d.ID, d.UserID, d.Fingerprint, d.Label, d.CreatedAt, d.LastUsedAt, d.TrustedUntil).
		Scan(&d.ID, &d.CreatedAt)
}

// Touch sets last_used_at for the record.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trusted_devices SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// Deactivate clears the active flag. The row is kept as a soft delete.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE trusted_devices SET active = false WHERE id = $1`, id)
	return err
}

// DeactivateAllForUser clears the active flag on every active record of the user and returns how many changed.
func (r *PostgresRepository) DeactivateAllForUser(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE trusted_devices SET active = false WHERE user_id = $1 AND active`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
