// Package devotp keeps plain SMS codes by challenge id so local environments can read them
// from GET /dev/mfa/otp instead of a phone. It is wired only when OTP_RETURN_TO_CLIENT is set.
package devotp

import (
	"context"
	"sync"
	"time"
)

// Store holds plain OTP by challenge id.
type Store interface {
	Put(ctx context.Context, challengeID, otp string, expiresAt time.Time)
	// Get returns the otp for challengeID if present and not expired.
	Get(ctx context.Context, challengeID string) (otp string, ok bool)
	Delete(ctx context.Context, challengeID string)
}

type entry struct {
	otp       string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store. Expired entries are dropped on read and by Sweep.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]entry), nowF: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, challengeID, otp string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[challengeID] = entry{otp: otp, expiresAt: expiresAt}
}

func (s *MemoryStore) Get(ctx context.Context, challengeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[challengeID]
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		delete(s.m, challengeID)
		return "", false
	}
	return e.otp, true
}

func (s *MemoryStore) Delete(ctx context.Context, challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, challengeID)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	n := 0
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}
