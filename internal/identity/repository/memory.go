package repository

import (
	"context"
	"sync"

	"schoolhub/backend/internal/identity/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured.
type MemoryRepository struct {
	mu     sync.Mutex
	byUser map[string]*domain.Identity
}

// NewMemoryRepository returns an empty in-memory identity repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byUser: make(map[string]*domain.Identity)}
}

func (r *MemoryRepository) GetByUserID(ctx context.Context, userID string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byUser[userID]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *i
	r.byUser[i.UserID] = &cp
	return nil
}
