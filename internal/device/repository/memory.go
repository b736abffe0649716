package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"schoolhub/backend/internal/device/domain"
)

// MemoryRepository is an in-process Repository used in tests and when no database is configured.
type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]*domain.TrustedDevice
}

// NewMemoryRepository returns an empty in-memory trusted device repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*domain.TrustedDevice)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := r.findLocked(userID, fingerprint); d != nil {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.TrustedDevice
	for _, d := range r.devices {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].LastUsedAt.After(out[j].LastUsedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, d *domain.TrustedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findLocked(d.UserID, d.Fingerprint); existing != nil {
		existing.Label = d.Label
		existing.LastUsedAt = d.LastUsedAt
		existing.TrustedUntil = d.TrustedUntil
		existing.Active = true
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.Active = true
		return nil
	}
	cp := *d
	cp.Active = true
	r.devices[d.ID] = &cp
	d.Active = true
	return nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LastUsedAt = at
	}
	return nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Active = false
	}
	return nil
}

func (r *MemoryRepository) DeactivateAllForUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.devices {
		if d.UserID == userID && d.Active {
			d.Active = false
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) findLocked(userID, fingerprint string) *domain.TrustedDevice {
	for _, d := range r.devices {
		if d.UserID == userID && d.Fingerprint == fingerprint {
			return d
		}
	}
	return nil
}
