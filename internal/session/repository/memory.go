package repository

import (
	"context"
	"sync"
	"time"

	"schoolhub/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	nowF     func() time.Time
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session), nowF: time.Now}
}

func clone(s *domain.Session) *domain.Session {
	cp := *s
	cp.Methods = append([]domain.AuthMethod(nil), s.Methods...)
	return &cp
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return clone(s), nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.RevokedAt == nil {
		now := r.nowF()
		s.RevokedAt = &now
	}
	return nil
}

func (r *MemoryRepository) Elevate(ctx context.Context, id string, method domain.AuthMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Active(r.nowF()) {
		return ErrSessionNotActive
	}
	s.Assurance = domain.AssuranceElevated
	s.Methods = append(s.Methods, method)
	return nil
}

func (r *MemoryRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastSeenAt = &at
	}
	return nil
}
