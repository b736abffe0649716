package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"schoolhub/backend/internal/user/domain"
)

// PostgresRepository implements Repository and ContactRepository over users and user_contacts.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, name, role, status, created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u            domain.User
		role, status string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return &u, nil
}

// GetByID returns the user for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns the user for email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, strings.ToLower(email)))
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.Name, string(u.Role), string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}

// GetContact returns the user's contact of kind, or nil if not found.
func (r *PostgresRepository) GetContact(ctx context.Context, userID string, kind domain.ContactKind) (*domain.Contact, error) {
	var (
		c domain.Contact
		k string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, value, verified, created_at, updated_at
		FROM user_contacts WHERE user_id = $1 AND kind = $2`, userID, string(kind)).
		Scan(&c.ID, &c.UserID, &k, &c.Value, &c.Verified, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Kind = domain.ContactKind(k)
	return &c, nil
}

// CreateContact inserts a contact row. The (user_id, kind) unique constraint rejects duplicates.
func (r *PostgresRepository) CreateContact(ctx context.Context, c *domain.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_contacts (id, user_id, kind, value, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, string(c.Kind), c.Value, c.Verified, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateContact sets value, verified and updated_at for the contact id.
func (r *PostgresRepository) UpdateContact(ctx context.Context, c *domain.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_contacts SET value = $2, verified = $3, updated_at = $4 WHERE id = $1`,
		c.ID, c.Value, c.Verified, c.UpdatedAt)
	return err
}
