package elevation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/policy/engine"
)

var ErrAttemptNotFound = errors.New("elevation attempt not found")

const (
	DefaultIdleTTL        = 15 * time.Minute
	DefaultRetainFinished = 2 * time.Minute
	pruneInterval         = time.Minute
)

// ManagerConfig holds defaults applied to every attempt.
type ManagerConfig struct {
	MaxAttempts     int
	WarnAfter       time.Duration
	ConfirmTries    int
	ConfirmInterval time.Duration
	// IdleTTL cancels running attempts with no activity for this long.
	IdleTTL time.Duration
	// RetainFinished keeps finished attempts readable for this long.
	RetainFinished time.Duration
}

// CreateRequest starts an attempt for the caller's session.
type CreateRequest struct {
	UserID            string
	SessionID         string
	Role              string
	DeviceFingerprint string
	DeviceLabel       string
	ForceReverify     bool
	// FactorKinds narrows the kinds policy allows. Empty keeps the policy order.
	FactorKinds []mfadomain.Kind
}

// Manager owns the running attempts. Each session has at most one running attempt; creating a
// new one cancels the previous.
type Manager struct {
	deps    Deps
	policy  engine.Evaluator
	cfg     ManagerConfig
	logger  *zap.Logger
	observe func(userID, sessionID string, ev Event)

	mu       sync.Mutex
	attempts map[string]*Machine
}

// NewManager returns a Manager. observe may be nil; it receives every event of every attempt.
func NewManager(deps Deps, policy engine.Evaluator, cfg ManagerConfig, observe func(userID, sessionID string, ev Event)) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:     deps,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
		observe:  observe,
		attempts: make(map[string]*Machine),
	}
}

// Create evaluates policy, starts a new attempt and runs its loading step.
func (mg *Manager) Create(ctx context.Context, req CreateRequest) (*Machine, error) {
	dec, err := mg.policy.Evaluate(ctx, engine.Input{
		UserID:            req.UserID,
		Role:              req.Role,
		Action:            domain.ActionSessionElevate,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		mg.logger.Warn("elevation policy degraded", zap.String("user_id", req.UserID), zap.Error(err))
	}
	opts := Options{
		RequireMFA:         dec.ElevationRequired,
		AllowedFactorKinds: narrow(dec.FactorOrder, req.FactorKinds),
		RememberDevice:     dec.RememberDevice,
		ForceReverify:      req.ForceReverify,
		DeviceFingerprint:  req.DeviceFingerprint,
		DeviceLabel:        req.DeviceLabel,
		TrustTTLDays:       dec.TrustTTLDays,
		MaxAttempts:        mg.cfg.MaxAttempts,
		WarnAfter:          mg.cfg.WarnAfter,
		ConfirmTries:       mg.cfg.ConfirmTries,
		ConfirmInterval:    mg.cfg.ConfirmInterval,
	}

	deps := mg.deps
	if mg.observe != nil {
		userID, sessionID := req.UserID, req.SessionID
		deps.OnEvent = func(ev Event) { mg.observe(userID, sessionID, ev) }
	}
	m := NewMachine(uuid.New().String(), req.UserID, req.SessionID, opts, deps)

	var previous []*Machine
	mg.mu.Lock()
	for id, other := range mg.attempts {
		if other.sessionID == req.SessionID {
			previous = append(previous, other)
			delete(mg.attempts, id)
		}
	}
	mg.attempts[m.id] = m
	mg.mu.Unlock()
	for _, other := range previous {
		other.Cancel()
	}

	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the attempt if it belongs to userID.
func (mg *Manager) Get(userID, id string) (*Machine, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	m, ok := mg.attempts[id]
	if !ok || m.userID != userID {
		return nil, ErrAttemptNotFound
	}
	return m, nil
}

// Len returns the number of tracked attempts.
func (mg *Manager) Len() int {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	return len(mg.attempts)
}

// Prune cancels idle running attempts and forgets finished ones past their retention.
func (mg *Manager) Prune(now time.Time) int {
	var idle []*Machine
	removed := 0
	mg.mu.Lock()
	for id, m := range mg.attempts {
		age := now.Sub(m.UpdatedAt())
		finished := m.Result() != nil
		switch {
		case finished && age > mg.cfg.RetainFinished:
		case !finished && age > mg.cfg.IdleTTL:
			idle = append(idle, m)
		default:
			continue
		}
		delete(mg.attempts, id)
		removed++
	}
	mg.mu.Unlock()
	for _, m := range idle {
		m.Cancel()
	}
	return removed
}

// Run prunes periodically until ctx is done.
func (mg *Manager) Run(ctx context.Context) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := mg.Prune(now); n > 0 {
				mg.logger.Debug("pruned elevation attempts", zap.Int("count", n))
			}
		}
	}
}

// narrow keeps the kinds of order that want also lists, in order's sequence.
func narrow(order, want []mfadomain.Kind) []mfadomain.Kind {
	if len(want) == 0 {
		return order
	}
	out := []mfadomain.Kind{}
	for _, k := range order {
		for _, w := range want {
			if k == w {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
