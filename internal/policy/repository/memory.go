package repository

import (
	"context"
	"sort"
	"sync"

	"schoolhub/backend/internal/policy/domain"
)

// MemoryRepository is an in-process Repository used in tests and when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	policies map[string]*domain.Policy
}

// NewMemoryRepository returns an empty in-memory policy repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]*domain.Policy)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Policy, error) {
	return r.filter(func(*domain.Policy) bool { return true }), nil
}

func (r *MemoryRepository) GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error) {
	return r.filter(func(p *domain.Policy) bool { return p.Enabled }), nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.policies[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.policies[p.ID]; ok {
		existing.Name = p.Name
		existing.Rules = p.Rules
		existing.Enabled = p.Enabled
		existing.UpdatedAt = p.UpdatedAt
	}
	return nil
}

func (r *MemoryRepository) filter(keep func(*domain.Policy) bool) []*domain.Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Policy
	for _, p := range r.policies {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
