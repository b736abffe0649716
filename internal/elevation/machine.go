package elevation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	devicedomain "schoolhub/backend/internal/device/domain"
	"schoolhub/backend/internal/mfa"
	"schoolhub/backend/internal/mfa/coordinator"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

var (
	ErrFinished        = errors.New("elevation attempt already finished")
	ErrWrongState      = errors.New("operation not allowed in the current state")
	ErrUnknownFactor   = errors.New("factor is not offered by this attempt")
	ErrBusy            = errors.New("a verification is already in progress")
	ErrSuperseded      = errors.New("result discarded: attempt moved on")
	ErrStaleGeneration = errors.New("challenge generation is no longer current")
	ErrTooManyAttempts = errors.New("verification attempt limit reached")
	errNotElevated     = errors.New("session not yet elevated")
)

// Factors lists a user's factors.
type Factors interface {
	List(ctx context.Context, userID string) (*mfadomain.FactorSet, error)
}

// Challenges issues and verifies challenges and tracks their age and rate-limit countdowns.
type Challenges interface {
	Issue(ctx context.Context, sessionID string, factor *mfadomain.Factor) (*coordinator.Issued, error)
	Verify(ctx context.Context, issued *coordinator.Issued, code string) (*sessiondomain.Session, error)
	Cooldown(factorID string) time.Duration
	ExpiringSoon(issued *coordinator.Issued) bool
	Stale(issued *coordinator.Issued) bool
	Discard(sessionID, factorID, challengeID string)
}

// Sessions fetches the current session from the identity provider. A nil session means
// missing, revoked or expired.
type Sessions interface {
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
}

// DeviceTrust is the trusted device cache.
type DeviceTrust interface {
	IsTrusted(ctx context.Context, userID, fingerprint string) bool
	RecordTrust(ctx context.Context, userID, fingerprint, label string, durationDays int) (*devicedomain.TrustedDevice, error)
}

// Deps are the collaborators of a Machine. Trust and OnEvent are optional.
type Deps struct {
	Factors    Factors
	Challenges Challenges
	Sessions   Sessions
	Trust      DeviceTrust
	Logger     *zap.Logger
	// OnEvent is called for every published event, outside the machine's lock.
	OnEvent func(Event)
}

// Machine is one elevation attempt. All methods are safe for concurrent use. Provider calls run
// without holding the lock; their results are applied only if the attempt has not moved on
// (cancelled, finished, another challenge requested) while they were in flight.
type Machine struct {
	id        string
	userID    string
	sessionID string
	opts      Options
	deps      Deps
	logger    *zap.Logger
	nowF      func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu            sync.Mutex
	started       bool
	state         State
	factors       []*mfadomain.Factor
	selected      *mfadomain.Factor
	issued        *coordinator.Issued
	generation    uint64
	requestSeq    uint64
	attempts      int
	verifying     bool
	lastErr       *mfa.Error
	cooldownUntil time.Time
	cooldownTimer *time.Timer
	warnTimer     *time.Timer
	result        *Result
	assurance     sessiondomain.Assurance
	done          chan struct{}
	seq           uint64
	subs          map[int]chan Event
	nextSub       int
	outbox        []Event
	updatedAt     time.Time
}

// NewMachine returns a Machine in the loading state. Call Start to run the loading step.
func NewMachine(id, userID, sessionID string, opts Options, deps Deps) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		id:        id,
		userID:    userID,
		sessionID: sessionID,
		opts:      opts.withDefaults(),
		deps:      deps,
		logger:    logger.With(zap.String("attempt_id", id)),
		nowF:      time.Now,
		afterFunc: time.AfterFunc,
		state:     StateLoading,
		done:      make(chan struct{}),
		subs:      make(map[int]chan Event),
		updatedAt: time.Now(),
	}
}

// ID returns the attempt id.
func (m *Machine) ID() string { return m.id }

// UserID returns the owning user.
func (m *Machine) UserID() string { return m.userID }

// SessionID returns the session being elevated.
func (m *Machine) SessionID() string { return m.sessionID }

// Done is closed when the attempt reaches a terminal state.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Result returns the terminal result, or nil while the attempt is running.
func (m *Machine) Result() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil
	}
	r := *m.result
	return &r
}

// UpdatedAt returns the time of the last published event.
func (m *Machine) UpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt
}

// Start runs the loading step: it checks the session, device trust and the user's verified factors,
// and moves to select-factor, awaiting-challenge, complete or failed. No challenge is issued.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrWrongState
	}
	m.started = true
	m.emitLocked("")
	m.unlock()

	sess, err := m.deps.Sessions.GetSession(ctx, m.sessionID)
	if err != nil {
		m.finish(Result{Outcome: OutcomeFailed, Err: mfa.Classify(err)})
		return nil
	}
	if sess == nil || sess.UserID != m.userID {
		m.finish(Result{Outcome: OutcomeFailed, Err: mfa.Classify(mfa.ErrSessionNotActive)})
		return nil
	}
	if !m.opts.ForceReverify {
		if sess.Elevated() || !m.opts.RequireMFA {
			m.finish(Result{Outcome: OutcomeComplete, Session: sess})
			return nil
		}
		if m.deps.Trust != nil && m.opts.DeviceFingerprint != "" &&
			m.deps.Trust.IsTrusted(ctx, m.userID, m.opts.DeviceFingerprint) {
			m.finish(Result{Outcome: OutcomeComplete, Session: sess, TrustedDevice: true})
			return nil
		}
	}

	set, err := m.deps.Factors.List(ctx, m.userID)
	if err != nil {
		m.finish(Result{Outcome: OutcomeFailed, Err: mfa.Classify(err)})
		return nil
	}
	offered := m.offered(set)
	if len(offered) == 0 {
		m.finish(Result{Outcome: OutcomeFailed, Err: mfa.NewError(mfa.CategoryNoVerifiedFactors, "no verified factor is allowed for this attempt")})
		return nil
	}

	m.mu.Lock()
	if m.result != nil {
		m.unlock()
		return nil
	}
	m.factors = offered
	m.assurance = sess.Assurance
	if len(offered) == 1 {
		m.selected = offered[0]
		m.transitionLocked(StateAwaitingChallenge)
	} else {
		m.transitionLocked(StateSelectFactor)
	}
	m.unlock()
	return nil
}

// offered returns the verified factors the options allow, in the options' kind order.
func (m *Machine) offered(set *mfadomain.FactorSet) []*mfadomain.Factor {
	verified := set.Verified()
	if m.opts.AllowedFactorKinds == nil {
		return verified
	}
	var out []*mfadomain.Factor
	for _, kind := range m.opts.AllowedFactorKinds {
		for _, f := range verified {
			if f.Kind == kind {
				out = append(out, f)
			}
		}
	}
	return out
}

// SelectFactor chooses the factor to verify with. It is also allowed after a challenge was
// requested, in which case the outstanding challenge is abandoned.
func (m *Machine) SelectFactor(factorID string) error {
	m.mu.Lock()
	defer m.unlock()
	if m.result != nil {
		return ErrFinished
	}
	switch m.state {
	case StateSelectFactor, StateAwaitingChallenge, StateVerify:
	default:
		return ErrWrongState
	}
	if m.verifying {
		return ErrBusy
	}
	var chosen *mfadomain.Factor
	for _, f := range m.factors {
		if f.ID == factorID {
			chosen = f
		}
	}
	if chosen == nil {
		return ErrUnknownFactor
	}
	if m.selected != nil && m.selected.ID == chosen.ID && m.state != StateSelectFactor {
		return nil
	}
	m.abandonChallengeLocked()
	m.selected = chosen
	m.lastErr = nil
	m.transitionLocked(StateAwaitingChallenge)
	return nil
}

// RequestChallenge issues a challenge for the selected factor. While a rate-limit countdown is
// running it returns a rate-limited error without calling the provider. A newer request, a factor
// change or cancellation while the call is in flight discards its result.
func (m *Machine) RequestChallenge(ctx context.Context) error {
	m.mu.Lock()
	if m.result != nil {
		m.unlock()
		return ErrFinished
	}
	if (m.state != StateAwaitingChallenge && m.state != StateVerify) || m.selected == nil {
		m.unlock()
		return ErrWrongState
	}
	if m.verifying {
		m.unlock()
		return ErrBusy
	}
	if wait := m.cooldownRemainingLocked(); wait > 0 {
		err := mfa.RateLimited(wait)
		m.unlock()
		return err
	}
	factor := m.selected
	m.abandonChallengeLocked()
	ticket := m.requestSeq
	m.lastErr = nil
	if m.state != StateAwaitingChallenge {
		m.transitionLocked(StateAwaitingChallenge)
	}
	m.unlock()

	issued, err := m.deps.Challenges.Issue(ctx, m.sessionID, factor)

	m.mu.Lock()
	defer m.unlock()
	if m.result != nil || ticket != m.requestSeq {
		if issued != nil {
			m.deps.Challenges.Discard(m.sessionID, issued.FactorID, issued.ChallengeID)
		}
		return ErrSuperseded
	}
	if err != nil {
		me := mfa.Classify(err)
		switch me.Category {
		case mfa.CategoryRateLimited:
			m.lastErr = me
			m.startCooldownLocked(factor.ID, me.WaitSeconds)
			m.emitLocked(m.state)
		case mfa.CategoryProviderMisconfigured, mfa.CategoryNotFound, mfa.CategoryNoVerifiedFactors:
			m.finishLocked(Result{Outcome: OutcomeFailed, Err: me})
		default:
			m.lastErr = me
			m.emitLocked(m.state)
		}
		return me
	}

	m.generation++
	m.issued = issued
	gen := m.generation
	m.warnTimer = m.afterFunc(m.opts.WarnAfter+time.Second, func() { m.warnExpiring(gen) })
	m.transitionLocked(StateVerify)
	return nil
}

// Generation returns the generation of the current challenge; Verify must be called with it.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Verify submits code for the challenge of the given generation. Malformed codes and challenges
// older than the freshness window are rejected without calling the provider. Invalid, expired and
// rate-limited outcomes count against MaxAttempts. Success completes only after a re-fetched
// session confirms elevated assurance.
func (m *Machine) Verify(ctx context.Context, generation uint64, code string) error {
	m.mu.Lock()
	if m.result != nil {
		m.unlock()
		return ErrFinished
	}
	if m.state != StateVerify || m.issued == nil {
		m.unlock()
		return ErrWrongState
	}
	if m.verifying {
		m.unlock()
		return ErrBusy
	}
	if generation != m.generation {
		m.unlock()
		return &mfa.Error{Category: mfa.CategoryExpiredChallenge, Raw: "challenge generation superseded", Err: ErrStaleGeneration}
	}
	clean := mfa.SanitizeCode(code)
	if err := mfa.ValidateCode(clean); err != nil {
		m.lastErr = mfa.Classify(err)
		m.emitLocked(m.state)
		m.unlock()
		return err
	}
	if m.deps.Challenges.Stale(m.issued) {
		m.abandonChallengeLocked()
		me := mfa.NewError(mfa.CategoryExpiredChallenge, "challenge older than the freshness window")
		m.lastErr = me
		m.transitionLocked(StateAwaitingChallenge)
		m.unlock()
		return me
	}
	m.verifying = true
	issued := *m.issued
	factorID := m.selected.ID
	gen, ticket := m.generation, m.requestSeq
	m.unlock()

	if err := m.refresh(ctx, factorID); err != nil {
		m.mu.Lock()
		defer m.unlock()
		m.verifying = false
		if m.result != nil || gen != m.generation || ticket != m.requestSeq {
			return ErrSuperseded
		}
		me := mfa.Classify(err)
		if me.Category == mfa.CategoryNotFound {
			m.finishLocked(Result{Outcome: OutcomeFailed, Err: me})
		} else {
			m.lastErr = me
			m.emitLocked(m.state)
		}
		return me
	}

	_, err := m.deps.Challenges.Verify(ctx, &issued, clean)

	m.mu.Lock()
	if m.result != nil || gen != m.generation || ticket != m.requestSeq {
		m.verifying = false
		m.unlock()
		return ErrSuperseded
	}
	if err != nil {
		m.verifying = false
		me := m.applyVerifyErrorLocked(mfa.Classify(err))
		m.unlock()
		return me
	}
	m.unlock()

	sess, cerr := m.confirm(ctx)

	m.mu.Lock()
	m.verifying = false
	if m.result != nil {
		m.unlock()
		return ErrSuperseded
	}
	if cerr != nil {
		me := &mfa.Error{Category: mfa.CategoryVerificationUnconfirmed, Raw: cerr.Error(), Err: cerr}
		m.finishLocked(Result{Outcome: OutcomeFailed, Err: me})
		m.unlock()
		return me
	}
	remember := m.opts.RememberDevice && m.deps.Trust != nil && m.opts.DeviceFingerprint != "" && m.opts.TrustTTLDays > 0
	m.unlock()

	var remembered bool
	if remember {
		if _, err := m.deps.Trust.RecordTrust(ctx, m.userID, m.opts.DeviceFingerprint, m.opts.DeviceLabel, m.opts.TrustTTLDays); err != nil {
			m.logger.Warn("record device trust failed", zap.Error(err))
		} else {
			remembered = true
		}
	}
	m.finish(Result{Outcome: OutcomeComplete, Session: sess, DeviceRemembered: remembered})
	return nil
}

// applyVerifyErrorLocked updates attempt state for a classified provider error and returns it.
func (m *Machine) applyVerifyErrorLocked(me *mfa.Error) *mfa.Error {
	switch me.Category {
	case mfa.CategoryInvalidCode:
		m.attempts++
	case mfa.CategoryExpiredChallenge:
		m.attempts++
		m.abandonChallengeLocked()
	case mfa.CategoryRateLimited:
		m.attempts++
		m.startCooldownLocked(m.selected.ID, me.WaitSeconds)
	case mfa.CategoryNotFound, mfa.CategoryProviderMisconfigured:
		m.finishLocked(Result{Outcome: OutcomeFailed, Err: me})
		return me
	}
	if m.attempts >= m.opts.MaxAttempts {
		m.finishLocked(Result{Outcome: OutcomeFailed, Err: &mfa.Error{
			Category: mfa.CategoryRateLimited, Raw: ErrTooManyAttempts.Error(), Err: ErrTooManyAttempts,
		}})
		return me
	}
	m.lastErr = me
	if me.Category == mfa.CategoryExpiredChallenge {
		m.transitionLocked(StateAwaitingChallenge)
	} else {
		m.emitLocked(m.state)
	}
	return me
}

// refresh checks that the factor still exists and is verified before a verify call.
func (m *Machine) refresh(ctx context.Context, factorID string) error {
	set, err := m.deps.Factors.List(ctx, m.userID)
	if err != nil {
		return err
	}
	if f := set.Find(factorID); f == nil || !f.Verified() {
		return mfa.ErrFactorNotFound
	}
	return nil
}

// confirm polls the provider until the session reports elevated assurance.
func (m *Machine) confirm(ctx context.Context) (*sessiondomain.Session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ConfirmInterval
	b.MaxInterval = 8 * m.opts.ConfirmInterval
	op := func() (*sessiondomain.Session, error) {
		sess, err := m.deps.Sessions.GetSession(ctx, m.sessionID)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, backoff.Permanent(mfa.ErrSessionNotActive)
		}
		if !sess.Elevated() {
			return nil, errNotElevated
		}
		return sess, nil
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(m.opts.ConfirmTries)))
}

// Cancel ends the attempt with outcome cancelled. In-flight provider calls are not aborted;
// their results are discarded.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.unlock()
	m.finishLocked(Result{Outcome: OutcomeCancelled, Err: mfa.NewError(mfa.CategoryCancelled, "cancelled by caller")})
}

// Snapshot returns the current view of the attempt.
func (m *Machine) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		ID:              m.id,
		State:           m.state,
		Generation:      m.generation,
		Attempts:        m.attempts,
		MaxAttempts:     m.opts.MaxAttempts,
		CooldownSeconds: ceilSeconds(m.cooldownRemainingLocked()),
		Assurance:       m.assurance,
		Error:           errorView(m.lastErr),
	}
	for _, f := range m.factors {
		v.Factors = append(v.Factors, FactorView{ID: f.ID, Kind: f.Kind, Label: f.Label})
	}
	if m.selected != nil {
		v.SelectedFactorID = m.selected.ID
	}
	if m.issued != nil {
		at := m.issued.IssuedAt
		v.ChallengeID = m.issued.ChallengeID
		v.ChallengeIssuedAt = &at
		v.ExpiringSoon = m.deps.Challenges.ExpiringSoon(m.issued)
	}
	if m.result != nil {
		v.Outcome = m.result.Outcome
		v.TrustedDevice = m.result.TrustedDevice
	}
	return v
}

// Subscribe returns a channel of events and a function that stops delivery. The channel is closed
// after the terminal event. Events are dropped for subscribers that fall behind.
func (m *Machine) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 32)
	if m.result != nil {
		ch <- m.eventLocked("")
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Machine) warnExpiring(gen uint64) {
	m.mu.Lock()
	defer m.unlock()
	if m.result != nil || m.generation != gen || m.issued == nil {
		return
	}
	m.emitLocked(m.state)
}

func (m *Machine) clearCooldown(until time.Time) {
	m.mu.Lock()
	defer m.unlock()
	if m.result != nil || !m.cooldownUntil.Equal(until) {
		return
	}
	m.cooldownUntil = time.Time{}
	m.cooldownTimer = nil
	if m.lastErr != nil && m.lastErr.Category == mfa.CategoryRateLimited {
		m.lastErr = nil
	}
	m.emitLocked(m.state)
}

func (m *Machine) startCooldownLocked(factorID string, waitSeconds int) {
	wait := m.deps.Challenges.Cooldown(factorID)
	if wait <= 0 {
		wait = time.Duration(waitSeconds) * time.Second
	}
	if wait <= 0 {
		return
	}
	if m.cooldownTimer != nil {
		m.cooldownTimer.Stop()
	}
	until := m.nowF().Add(wait)
	m.cooldownUntil = until
	m.cooldownTimer = m.afterFunc(wait, func() { m.clearCooldown(until) })
}

func (m *Machine) cooldownRemainingLocked() time.Duration {
	if m.cooldownUntil.IsZero() {
		return 0
	}
	if d := m.cooldownUntil.Sub(m.nowF()); d > 0 {
		return d
	}
	return 0
}

// abandonChallengeLocked forgets the outstanding challenge and invalidates in-flight requests.
func (m *Machine) abandonChallengeLocked() {
	m.requestSeq++
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.issued != nil {
		m.deps.Challenges.Discard(m.sessionID, m.issued.FactorID, m.issued.ChallengeID)
		m.issued = nil
	}
}

func (m *Machine) finish(res Result) {
	m.mu.Lock()
	defer m.unlock()
	m.finishLocked(res)
}

func (m *Machine) finishLocked(res Result) {
	if m.result != nil {
		return
	}
	m.abandonChallengeLocked()
	if m.cooldownTimer != nil {
		m.cooldownTimer.Stop()
		m.cooldownTimer = nil
	}
	m.result = &res
	m.lastErr = res.Err
	if res.Session != nil {
		m.assurance = res.Session.Assurance
	}
	if res.Outcome == OutcomeComplete {
		m.transitionLocked(StateComplete)
	} else {
		m.transitionLocked(StateFailed)
	}
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	close(m.done)
	if res.Err != nil {
		m.logger.Info("elevation finished",
			zap.String("outcome", string(res.Outcome)), zap.String("category", string(res.Err.Category)), zap.String("raw", res.Err.Raw))
	} else {
		m.logger.Info("elevation finished", zap.String("outcome", string(res.Outcome)), zap.Bool("trusted_device", res.TrustedDevice))
	}
}

func (m *Machine) transitionLocked(to State) {
	prev := m.state
	m.state = to
	m.emitLocked(prev)
}

func (m *Machine) eventLocked(prev State) Event {
	ev := Event{
		AttemptID:       m.id,
		Seq:             m.seq,
		State:           m.state,
		Previous:        prev,
		Generation:      m.generation,
		Attempts:        m.attempts,
		CooldownSeconds: ceilSeconds(m.cooldownRemainingLocked()),
		Error:           errorView(m.lastErr),
		At:              m.nowF(),
	}
	if m.selected != nil {
		ev.FactorID = m.selected.ID
		ev.FactorKind = m.selected.Kind
	}
	if m.issued != nil {
		ev.ChallengeID = m.issued.ChallengeID
		ev.ExpiringSoon = m.deps.Challenges.ExpiringSoon(m.issued)
	}
	if m.result != nil {
		ev.Outcome = m.result.Outcome
	}
	return ev
}

// emitLocked publishes the current state to subscribers and queues it for OnEvent. prev is the
// state before a transition, or the current state for in-state updates.
func (m *Machine) emitLocked(prev State) {
	m.seq++
	m.updatedAt = m.nowF()
	ev := m.eventLocked(prev)
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	m.outbox = append(m.outbox, ev)
}

// unlock releases the lock and then delivers queued events to OnEvent.
func (m *Machine) unlock() {
	out := m.outbox
	m.outbox = nil
	m.mu.Unlock()
	if m.deps.OnEvent == nil {
		return
	}
	for _, ev := range out {
		m.deps.OnEvent(ev)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
