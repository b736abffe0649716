package repository

import (
	"context"
	"database/sql"
	"errors"

	"schoolhub/backend/internal/policy/domain"
)

const policyColumns = `id, name, rules, enabled, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a policy repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*domain.Policy, error) {
	var p domain.Policy
	if err := row.Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID returns the policy for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	p, err := scanPolicy(r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM elevation_policies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// List returns all policies ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Policy, error) {
	return r.query(ctx, `SELECT `+policyColumns+` FROM elevation_policies ORDER BY created_at, id`)
}

// GetEnabledPolicies returns the enabled policies ordered by creation time.
func (r *PostgresRepository) GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error) {
	return r.query(ctx, `SELECT `+policyColumns+` FROM elevation_policies WHERE enabled ORDER BY created_at, id`)
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create persists the policy to the database. The policy must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO elevation_policies (id, name, rules, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Rules, p.Enabled, p.CreatedAt, p.UpdatedAt)
	return err
}

// Update replaces name, rules and enabled for the policy.
func (r *PostgresRepository) Update(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE elevation_policies SET name = $2, rules = $3, enabled = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Name, p.Rules, p.Enabled, p.UpdatedAt)
	return err
}
