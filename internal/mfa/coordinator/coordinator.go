// Package coordinator issues and verifies challenges against the identity provider while
// tracking, per session and factor, the one challenge that is still meaningful and any
// rate-limit countdown that blocks new challenge requests.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"schoolhub/backend/internal/mfa"
	"schoolhub/backend/internal/mfa/domain"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultWarnAfter      = 4 * time.Minute
	DefaultStaleAfter     = 5 * time.Minute
	// DefaultCooldown applies when the provider rate-limits without saying for how long.
	DefaultCooldown = time.Minute
)

// Provider is the part of the identity provider the coordinator calls.
type Provider interface {
	CreateChallenge(ctx context.Context, sessionID, factorID string) (*domain.Challenge, error)
	VerifyChallenge(ctx context.Context, sessionID, factorID, challengeID, code string) (*sessiondomain.Session, error)
}

// Config holds coordinator timings. Zero values fall back to the defaults above.
type Config struct {
	RequestTimeout time.Duration
	WarnAfter      time.Duration
	StaleAfter     time.Duration
	Cooldown       time.Duration
	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// Issued is a challenge the coordinator handed out.
type Issued struct {
	ChallengeID string
	FactorID    string
	Kind        domain.Kind
	SessionID   string
	IssuedAt    time.Time
}

type slot struct {
	sessionID string
	factorID  string
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	provider Provider
	cfg      Config
	logger   *zap.Logger
	nowF     func() time.Time

	mu        sync.Mutex
	current   map[slot]Issued
	cooldowns map[string]time.Time
}

// New returns a Coordinator over provider.
func New(provider Provider, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = DefaultWarnAfter
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nowF := cfg.Now
	if nowF == nil {
		nowF = time.Now
	}
	return &Coordinator{
		provider:  provider,
		cfg:       cfg,
		logger:    logger,
		nowF:      nowF,
		current:   make(map[slot]Issued),
		cooldowns: make(map[string]time.Time),
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Issue requests a challenge for a verified factor. While a countdown is active for the factor
// no provider call is made and a rate-limited error with the remaining seconds is returned.
// A rate-limited response drops the slot's current challenge and starts the countdown.
func (c *Coordinator) Issue(ctx context.Context, sessionID string, factor *domain.Factor) (*Issued, error) {
	if factor == nil {
		return nil, mfa.Classify(mfa.ErrFactorNotFound)
	}
	if !factor.Verified() {
		return nil, mfa.NewError(mfa.CategoryNoVerifiedFactors, "factor is not verified")
	}
	if wait := c.Cooldown(factor.ID); wait > 0 {
		return nil, mfa.RateLimited(wait)
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	ch, err := c.provider.CreateChallenge(rctx, sessionID, factor.ID)
	key := slot{sessionID, factor.ID}
	if err != nil {
		me := mfa.Classify(err)
		if me.Category == mfa.CategoryRateLimited {
			c.startCooldown(key, me.WaitSeconds)
		}
		c.logger.Info("challenge request failed",
			zap.String("factor_id", factor.ID), zap.String("category", string(me.Category)), zap.String("raw", me.Raw))
		return nil, me
	}

	now := c.nowF()
	issued := Issued{
		ChallengeID: ch.ID,
		FactorID:    factor.ID,
		Kind:        factor.Kind,
		SessionID:   sessionID,
		IssuedAt:    now,
	}
	// the provider's creation time keeps the local window from trailing its expiry
	if !ch.CreatedAt.IsZero() && ch.CreatedAt.Before(now) {
		issued.IssuedAt = ch.CreatedAt
	}
	c.mu.Lock()
	c.pruneLocked(now)
	c.current[key] = issued
	c.mu.Unlock()
	return &issued, nil
}

// Verify submits code for issued. The code is sanitized and must be 6 digits; a challenge older
// than StaleAfter or no longer current for its slot is rejected as expired without calling the
// provider. Failed attempts keep the challenge current; success consumes it.
func (c *Coordinator) Verify(ctx context.Context, issued *Issued, code string) (*sessiondomain.Session, error) {
	code = mfa.SanitizeCode(code)
	if err := mfa.ValidateCode(code); err != nil {
		return nil, err
	}
	if issued == nil {
		return nil, mfa.NewError(mfa.CategoryExpiredChallenge, "no challenge has been issued")
	}
	key := slot{issued.SessionID, issued.FactorID}
	if c.Stale(issued) {
		c.drop(key, issued.ChallengeID)
		return nil, mfa.NewError(mfa.CategoryExpiredChallenge, "challenge is older than the freshness window")
	}
	c.mu.Lock()
	cur, ok := c.current[key]
	c.mu.Unlock()
	if !ok || cur.ChallengeID != issued.ChallengeID {
		return nil, mfa.NewError(mfa.CategoryExpiredChallenge, "challenge was superseded")
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	sess, err := c.provider.VerifyChallenge(rctx, issued.SessionID, issued.FactorID, issued.ChallengeID, code)
	if err != nil {
		me := mfa.Classify(err)
		switch me.Category {
		case mfa.CategoryExpiredChallenge, mfa.CategoryNotFound:
			c.drop(key, issued.ChallengeID)
		case mfa.CategoryRateLimited:
			c.startCooldown(key, me.WaitSeconds)
		}
		return nil, me
	}
	c.drop(key, issued.ChallengeID)
	return sess, nil
}

// Current returns the outstanding challenge for the session and factor, or nil.
func (c *Coordinator) Current(sessionID, factorID string) *Issued {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.current[slot{sessionID, factorID}]; ok {
		return &cur
	}
	return nil
}

// Fresh is Current restricted to challenges that are not stale.
func (c *Coordinator) Fresh(sessionID, factorID string) *Issued {
	cur := c.Current(sessionID, factorID)
	if cur == nil || c.Stale(cur) {
		return nil
	}
	return cur
}

// Cooldown returns how long new challenge requests for factorID stay blocked.
func (c *Coordinator) Cooldown(factorID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldowns[factorID]
	if !ok {
		return 0
	}
	wait := until.Sub(c.nowF())
	if wait <= 0 {
		delete(c.cooldowns, factorID)
		return 0
	}
	return wait
}

// Age returns how long ago issued was handed out.
func (c *Coordinator) Age(issued *Issued) time.Duration {
	return c.nowF().Sub(issued.IssuedAt)
}

// ExpiringSoon reports whether issued is past the warning threshold.
func (c *Coordinator) ExpiringSoon(issued *Issued) bool {
	return c.Age(issued) > c.cfg.WarnAfter
}

// Stale reports whether issued is past the freshness window and must not be verified.
func (c *Coordinator) Stale(issued *Issued) bool {
	return c.Age(issued) > c.cfg.StaleAfter
}

// Discard forgets the slot's current challenge if it is still challengeID.
func (c *Coordinator) Discard(sessionID, factorID, challengeID string) {
	c.drop(slot{sessionID, factorID}, challengeID)
}

func (c *Coordinator) drop(key slot, challengeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.current[key]; ok && cur.ChallengeID == challengeID {
		delete(c.current, key)
	}
}

func (c *Coordinator) startCooldown(key slot, waitSeconds int) {
	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		wait = c.cfg.Cooldown
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.current, key)
	c.cooldowns[key.factorID] = c.nowF().Add(wait)
}

// pruneLocked drops stale challenges and elapsed countdowns. Callers hold c.mu.
func (c *Coordinator) pruneLocked(now time.Time) {
	for k, cur := range c.current {
		if now.Sub(cur.IssuedAt) > c.cfg.StaleAfter {
			delete(c.current, k)
		}
	}
	for id, until := range c.cooldowns {
		if !now.Before(until) {
			delete(c.cooldowns, id)
		}
	}
}
