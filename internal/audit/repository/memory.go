package repository

import (
	"context"
	"sort"
	"sync"

	"schoolhub/backend/internal/audit/domain"
)

// MemoryRepository is an in-process Repository used in tests and when no database is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.entries {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for _, a := range r.entries {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.entries = append(r.entries, &cp)
	return nil
}

// Entries returns every stored entry in insertion order.
func (r *MemoryRepository) Entries() []*domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditLog, len(r.entries))
	for i, a := range r.entries {
		cp := *a
		out[i] = &cp
	}
	return out
}
