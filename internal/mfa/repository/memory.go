package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"schoolhub/backend/internal/mfa/domain"
)

// MemoryChallengeRepository is an in-process ChallengeRepository used when no database is configured.
type MemoryChallengeRepository struct {
	mu         sync.Mutex
	challenges map[string]*domain.Challenge
}

// NewMemoryChallengeRepository returns an empty in-memory challenge repository.
func NewMemoryChallengeRepository() *MemoryChallengeRepository {
	return &MemoryChallengeRepository{challenges: make(map[string]*domain.Challenge)}
}

func (r *MemoryChallengeRepository) Create(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.challenges[c.ID] = &cp
	return nil
}

func (r *MemoryChallengeRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryChallengeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, id)
	return nil
}

func (r *MemoryChallengeRepository) DeleteByFactor(ctx context.Context, factorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.challenges {
		if c.FactorID == factorID {
			delete(r.challenges, id)
		}
	}
	return nil
}

// MemoryFactorRepository is an in-process FactorRepository used when no database is configured.
type MemoryFactorRepository struct {
	mu      sync.Mutex
	factors map[string]*domain.Factor
}

// NewMemoryFactorRepository returns an empty in-memory factor repository.
func NewMemoryFactorRepository() *MemoryFactorRepository {
	return &MemoryFactorRepository{factors: make(map[string]*domain.Factor)}
}

func (r *MemoryFactorRepository) Create(ctx context.Context, f *domain.Factor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.factors[f.ID] = &cp
	return nil
}

func (r *MemoryFactorRepository) GetByID(ctx context.Context, id string) (*domain.Factor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factors[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (r *MemoryFactorRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Factor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Factor
	for _, f := range r.factors {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryFactorRepository) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factors[id]
	if !ok || f.Status != domain.StatusPending {
		return false, nil
	}
	f.Status = domain.StatusVerified
	f.UpdatedAt = at
	return true, nil
}

func (r *MemoryFactorRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factors, id)
	return nil
}
