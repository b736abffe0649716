package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schoolhub/backend/internal/session/domain"
)

// PostgresRepository stores sessions in the sessions table. Methods are kept as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var (
		s         domain.Session
		assurance string
		methods   []byte
		revoked   sql.NullTime
		lastSeen  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_id, assurance, methods, expires_at, revoked_at, last_seen_at, created_at
		FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.DeviceID, &assurance, &methods, &s.ExpiresAt, &revoked, &lastSeen, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Assurance = domain.Assurance(assurance)
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &s.Methods); err != nil {
			return nil, fmt.Errorf("session methods: %w", err)
		}
	}
	if revoked.Valid {
		s.RevokedAt = &revoked.Time
	}
	if lastSeen.Valid {
		s.LastSeenAt = &lastSeen.Time
	}
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	methods, err := json.Marshal(s.Methods)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, device_id, assurance, methods, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.DeviceID, string(s.Assurance), methods, s.ExpiresAt, s.CreatedAt)
	return err
}

// Revoke marks the session revoked. Revoking twice keeps the first timestamp.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// Elevate upgrades a live session and appends method to its history in one statement.
func (r *PostgresRepository) Elevate(ctx context.Context, id string, method domain.AuthMethod) error {
	entry, err := json.Marshal([]domain.AuthMethod{method})
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET assurance = $2, methods = methods || $3::jsonb
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > now()`,
		id, string(domain.AssuranceElevated), entry)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotActive
	}
	return nil
}

// UpdateLastSeen sets last_seen_at for the session.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}
