package repository

import (
	"context"
	"strings"
	"sync"

	"schoolhub/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository and ContactRepository used when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	contacts map[string]*domain.Contact
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User), contacts: make(map[string]*domain.Contact)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

// Contacts returns every contact row for userID. Used by tests to detect duplicates.
func (r *MemoryRepository) Contacts(userID string) []*domain.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Contact
	for _, c := range r.contacts {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

func (r *MemoryRepository) GetContact(ctx context.Context, userID string, kind domain.ContactKind) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.UserID == userID && c.Kind == kind {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) CreateContact(ctx context.Context, c *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.contacts[c.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateContact(ctx context.Context, c *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.contacts[c.ID]; ok {
		existing.Value = c.Value
		existing.Verified = c.Verified
		existing.UpdatedAt = c.UpdatedAt
	}
	return nil
}
