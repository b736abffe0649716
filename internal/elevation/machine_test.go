package elevation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	devicedomain "schoolhub/backend/internal/device/domain"
	"schoolhub/backend/internal/mfa"
	"schoolhub/backend/internal/mfa/coordinator"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

// world fakes the identity provider: factors, one session, challenges and verification.
type world struct {
	mu           sync.Mutex
	factors      []*mfadomain.Factor
	session      *sessiondomain.Session
	validCode    string
	createErr    error
	verifyErr    error
	creates      int
	verifies     int
	gets         int
	verified     bool
	elevateIn    int
	neverElevate bool
	block        chan struct{}
	seq          int
}

func newWorld(factors ...*mfadomain.Factor) *world {
	return &world{
		factors:   factors,
		session:   &sessiondomain.Session{ID: "s1", UserID: "u1", Assurance: sessiondomain.AssuranceBase},
		validCode: "123456",
	}
}

func (w *world) List(ctx context.Context, userID string) (*mfadomain.FactorSet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var list []*mfadomain.Factor
	for _, f := range w.factors {
		if f.UserID == userID {
			cp := *f
			list = append(list, &cp)
		}
	}
	return mfadomain.NewFactorSet(list), nil
}

func (w *world) CreateChallenge(ctx context.Context, sessionID, factorID string) (*mfadomain.Challenge, error) {
	w.mu.Lock()
	block := w.block
	w.creates++
	w.mu.Unlock()
	if block != nil {
		<-block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return nil, w.createErr
	}
	w.seq++
	return &mfadomain.Challenge{ID: fmt.Sprintf("ch-%d", w.seq), FactorID: factorID, SessionID: sessionID}, nil
}

func (w *world) VerifyChallenge(ctx context.Context, sessionID, factorID, challengeID, code string) (*sessiondomain.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.verifies++
	if w.verifyErr != nil {
		return nil, w.verifyErr
	}
	if code != w.validCode {
		return nil, mfa.ErrInvalidCode
	}
	w.verified = true
	cp := *w.session
	return &cp, nil
}

func (w *world) GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gets++
	if w.session == nil || w.session.ID != sessionID {
		return nil, nil
	}
	if w.verified && !w.neverElevate {
		if w.elevateIn > 0 {
			w.elevateIn--
		} else {
			w.session.Assurance = sessiondomain.AssuranceElevated
		}
	}
	cp := *w.session
	return &cp, nil
}

func (w *world) removeFactors() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.factors = nil
}

type fakeTrust struct {
	trusted  map[string]bool
	recorded []int
}

func (f *fakeTrust) IsTrusted(ctx context.Context, userID, fingerprint string) bool {
	return f.trusted[userID+"/"+fingerprint]
}

func (f *fakeTrust) RecordTrust(ctx context.Context, userID, fingerprint, label string, days int) (*devicedomain.TrustedDevice, error) {
	f.recorded = append(f.recorded, days)
	return &devicedomain.TrustedDevice{ID: "d1", UserID: userID, Fingerprint: fingerprint, Active: true}, nil
}

// timers captures scheduled callbacks so tests fire them explicitly.
type timers struct {
	mu  sync.Mutex
	fns []func()
	ds  []time.Duration
}

func (t *timers) afterFunc(d time.Duration, f func()) *time.Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns = append(t.fns, f)
	t.ds = append(t.ds, d)
	return time.NewTimer(time.Hour)
}

func (t *timers) last() (time.Duration, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.fns)
	return t.ds[n-1], t.fns[n-1]
}

type harness struct {
	w      *world
	m      *Machine
	coord  *coordinator.Coordinator
	now    time.Time
	timers *timers
	trust  *fakeTrust
	events []Event
	evMu   sync.Mutex
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) states() []State {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	var out []State
	for _, ev := range h.events {
		if len(out) == 0 || out[len(out)-1] != ev.State {
			out = append(out, ev.State)
		}
	}
	return out
}

func newHarness(t *testing.T, w *world, opts Options) *harness {
	t.Helper()
	h := &harness{w: w, now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), timers: &timers{}, trust: &fakeTrust{trusted: map[string]bool{}}}
	h.coord = coordinator.New(w, coordinator.Config{Now: h.clock}, nil)
	if opts.ConfirmInterval == 0 {
		opts.ConfirmInterval = time.Millisecond
	}
	h.m = NewMachine("a1", "u1", "s1", opts, Deps{
		Factors:    w,
		Challenges: h.coord,
		Sessions:   w,
		Trust:      h.trust,
		OnEvent: func(ev Event) {
			h.evMu.Lock()
			h.events = append(h.events, ev)
			h.evMu.Unlock()
		},
	})
	h.m.nowF = h.clock
	h.m.afterFunc = h.timers.afterFunc
	return h
}

func totp(id string) *mfadomain.Factor {
	return &mfadomain.Factor{ID: id, UserID: "u1", Kind: mfadomain.KindTOTP, Status: mfadomain.StatusVerified}
}

func phone(id string) *mfadomain.Factor {
	return &mfadomain.Factor{ID: id, UserID: "u1", Kind: mfadomain.KindPhone, Status: mfadomain.StatusVerified, Phone: "+15555550100"}
}

func requireMFA() Options { return Options{RequireMFA: true} }

func mustStart(t *testing.T, h *harness) {
	t.Helper()
	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestMachine_NoVerifiedFactorsFails(t *testing.T) {
	pending := totp("f1")
	pending.Status = mfadomain.StatusPending
	h := newHarness(t, newWorld(pending), requireMFA())
	mustStart(t, h)

	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeFailed || res.Err.Category != mfa.CategoryNoVerifiedFactors {
		t.Fatalf("Result = %+v, want failed/no-verified-factors", res)
	}
	if h.w.creates != 0 {
		t.Errorf("creates = %d, want 0", h.w.creates)
	}
	select {
	case <-h.m.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestMachine_SingleTOTPSkipsSelection(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	if got := h.m.Snapshot().State; got != StateAwaitingChallenge {
		t.Fatalf("State = %q, want awaiting-challenge", got)
	}
	if h.w.creates != 0 {
		t.Fatal("no challenge should be issued before it is requested")
	}
	if err := h.m.RequestChallenge(context.Background()); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if err := h.m.Verify(context.Background(), h.m.Generation(), "123 456"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeComplete || !res.Session.Elevated() {
		t.Fatalf("Result = %+v, want complete with elevated session", res)
	}
	want := []State{StateLoading, StateAwaitingChallenge, StateVerify, StateComplete}
	got := h.states()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestMachine_AlreadyElevated(t *testing.T) {
	w := newWorld(totp("f1"))
	w.session.Assurance = sessiondomain.AssuranceElevated
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)
	if res := h.m.Result(); res == nil || res.Outcome != OutcomeComplete {
		t.Fatalf("Result = %+v, want complete", res)
	}

	forced := newHarness(t, w, Options{RequireMFA: true, ForceReverify: true})
	mustStart(t, forced)
	if got := forced.m.Snapshot().State; got != StateAwaitingChallenge {
		t.Errorf("State with ForceReverify = %q, want awaiting-challenge", got)
	}
}

func TestMachine_NotRequiredCompletes(t *testing.T) {
	h := newHarness(t, newWorld(), Options{})
	mustStart(t, h)
	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeComplete || res.Session.Elevated() {
		t.Fatalf("Result = %+v, want complete with base session", res)
	}
}

func TestMachine_TrustedDeviceSkips(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), Options{RequireMFA: true, DeviceFingerprint: "fp"})
	h.trust.trusted["u1/fp"] = true
	mustStart(t, h)
	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeComplete || !res.TrustedDevice {
		t.Fatalf("Result = %+v, want complete via trusted device", res)
	}
}

func TestMachine_TwoFactorsRequireSelection(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1"), phone("f2")), requireMFA())
	mustStart(t, h)
	if got := h.m.Snapshot().State; got != StateSelectFactor {
		t.Fatalf("State = %q, want select-factor", got)
	}
	if err := h.m.RequestChallenge(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Fatalf("RequestChallenge before selection err = %v, want ErrWrongState", err)
	}
	if err := h.m.SelectFactor("nope"); !errors.Is(err, ErrUnknownFactor) {
		t.Fatalf("SelectFactor(unknown) err = %v, want ErrUnknownFactor", err)
	}
	if err := h.m.SelectFactor("f2"); err != nil {
		t.Fatal(err)
	}
	v := h.m.Snapshot()
	if v.State != StateAwaitingChallenge || v.SelectedFactorID != "f2" {
		t.Fatalf("view = %+v, want awaiting-challenge on f2", v)
	}
	if h.w.creates != 0 {
		t.Error("selecting a phone factor must not send an SMS")
	}
}

func TestMachine_AllowedKindsOrderAndFilter(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1"), phone("f2")), Options{RequireMFA: true, AllowedFactorKinds: []mfadomain.Kind{mfadomain.KindPhone}})
	mustStart(t, h)
	v := h.m.Snapshot()
	if v.State != StateAwaitingChallenge || v.SelectedFactorID != "f2" {
		t.Fatalf("view = %+v, want phone factor only", v)
	}

	none := newHarness(t, newWorld(totp("f1")), Options{RequireMFA: true, AllowedFactorKinds: []mfadomain.Kind{}})
	mustStart(t, none)
	if res := none.m.Result(); res == nil || res.Err.Category != mfa.CategoryNoVerifiedFactors {
		t.Fatalf("Result = %+v, want no-verified-factors", res)
	}
}

func TestMachine_RateLimitCountdown(t *testing.T) {
	w := newWorld(phone("f1"))
	w.createErr = &mfa.RateLimitError{Wait: 30 * time.Second}
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)

	err := h.m.RequestChallenge(context.Background())
	if me := mfa.Classify(err); me.Category != mfa.CategoryRateLimited || me.WaitSeconds != 30 {
		t.Fatalf("err = %v, want rate-limited 30s", err)
	}
	v := h.m.Snapshot()
	if v.CooldownSeconds != 30 || v.State != StateAwaitingChallenge || v.ChallengeID != "" {
		t.Fatalf("view = %+v, want 30s countdown without a challenge", v)
	}
	d, clear := h.timers.last()
	if d != 30*time.Second {
		t.Fatalf("countdown timer = %v, want 30s", d)
	}

	w.createErr = nil
	h.now = h.now.Add(10 * time.Second)
	if err := h.m.RequestChallenge(context.Background()); !mfa.IsCategory(err, mfa.CategoryRateLimited) {
		t.Fatalf("RequestChallenge during countdown err = %v, want rate-limited", err)
	}
	if w.creates != 1 {
		t.Fatalf("creates = %d, want 1", w.creates)
	}

	h.now = h.now.Add(20 * time.Second)
	clear()
	v = h.m.Snapshot()
	if v.CooldownSeconds != 0 || v.Error != nil {
		t.Fatalf("view = %+v, want countdown and error cleared", v)
	}
	if err := h.m.RequestChallenge(context.Background()); err != nil {
		t.Fatalf("RequestChallenge after countdown: %v", err)
	}
	if w.creates != 2 {
		t.Errorf("creates = %d, want 2", w.creates)
	}
}

func TestMachine_FormatErrorIsLocal(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	err := h.m.Verify(context.Background(), h.m.Generation(), "12a34b")
	if !mfa.IsCategory(err, mfa.CategoryFormat) {
		t.Fatalf("err = %v, want format-error", err)
	}
	if h.w.verifies != 0 {
		t.Errorf("verifies = %d, want 0", h.w.verifies)
	}
	v := h.m.Snapshot()
	if v.State != StateVerify || v.Attempts != 0 {
		t.Errorf("view = %+v, want verify with no attempts counted", v)
	}
}

func TestMachine_StaleChallengeRejectedLocally(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())

	h.now = h.now.Add(4*time.Minute + 30*time.Second)
	if !h.m.Snapshot().ExpiringSoon {
		t.Error("challenge past 4 minutes should be flagged expiring soon")
	}
	h.now = h.now.Add(90 * time.Second)
	err := h.m.Verify(context.Background(), h.m.Generation(), "123456")
	if !mfa.IsCategory(err, mfa.CategoryExpiredChallenge) {
		t.Fatalf("err = %v, want expired-challenge", err)
	}
	if h.w.verifies != 0 {
		t.Errorf("verifies = %d, want 0", h.w.verifies)
	}
	if got := h.m.Snapshot().State; got != StateAwaitingChallenge {
		t.Errorf("State = %q, want awaiting-challenge", got)
	}
	if err := h.m.Verify(context.Background(), h.m.Generation(), "123456"); !errors.Is(err, ErrWrongState) {
		t.Errorf("Verify without a new challenge err = %v, want ErrWrongState", err)
	}
}

func TestMachine_InvalidCodeRetriesThenExhausts(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), Options{RequireMFA: true, MaxAttempts: 3})
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	gen := h.m.Generation()

	for i := 1; i <= 2; i++ {
		if err := h.m.Verify(context.Background(), gen, "000000"); !mfa.IsCategory(err, mfa.CategoryInvalidCode) {
			t.Fatalf("attempt %d err = %v, want invalid-code", i, err)
		}
		v := h.m.Snapshot()
		if v.State != StateVerify || v.Attempts != i {
			t.Fatalf("attempt %d view = %+v", i, v)
		}
	}
	_ = h.m.Verify(context.Background(), gen, "000000")
	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeFailed || !errors.Is(res.Err, ErrTooManyAttempts) {
		t.Fatalf("Result = %+v, want failed after attempt limit", res)
	}
	if err := h.m.Verify(context.Background(), gen, "123456"); !errors.Is(err, ErrFinished) {
		t.Errorf("Verify after failure err = %v, want ErrFinished", err)
	}
}

func TestMachine_OlderGenerationRejected(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	old := h.m.Generation()
	_ = h.m.RequestChallenge(context.Background())
	if h.m.Generation() != old+1 {
		t.Fatalf("Generation = %d, want %d", h.m.Generation(), old+1)
	}
	err := h.m.Verify(context.Background(), old, "123456")
	if !errors.Is(err, ErrStaleGeneration) || !mfa.IsCategory(err, mfa.CategoryExpiredChallenge) {
		t.Fatalf("err = %v, want stale generation", err)
	}
	if h.w.verifies != 0 {
		t.Errorf("verifies = %d, want 0", h.w.verifies)
	}
}

func TestMachine_CancelDropsLateChallenge(t *testing.T) {
	w := newWorld(phone("f1"))
	w.block = make(chan struct{})
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)

	errc := make(chan error, 1)
	go func() { errc <- h.m.RequestChallenge(context.Background()) }()
	for {
		w.mu.Lock()
		n := w.creates
		w.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	h.m.Cancel()
	close(w.block)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("RequestChallenge err = %v, want ErrSuperseded", err)
	}
	res := h.m.Result()
	if res == nil || res.Outcome != OutcomeCancelled {
		t.Fatalf("Result = %+v, want cancelled", res)
	}
	if v := h.m.Snapshot(); v.State != StateFailed || v.ChallengeID != "" {
		t.Errorf("view = %+v, want failed without a challenge", v)
	}
	if h.coord.Current("s1", "f1") != nil {
		t.Error("late challenge should be discarded from the coordinator")
	}
}

func TestMachine_ConfirmPollsUntilElevated(t *testing.T) {
	w := newWorld(totp("f1"))
	w.elevateIn = 2
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	getsBefore := w.gets
	if err := h.m.Verify(context.Background(), h.m.Generation(), "123456"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := w.gets - getsBefore; got != 3 {
		t.Errorf("session fetches = %d, want 3", got)
	}
	if res := h.m.Result(); res.Outcome != OutcomeComplete {
		t.Errorf("Outcome = %q, want complete", res.Outcome)
	}
}

func TestMachine_UnconfirmedElevationFails(t *testing.T) {
	w := newWorld(totp("f1"))
	w.neverElevate = true
	h := newHarness(t, w, Options{RequireMFA: true, ConfirmTries: 3})
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	err := h.m.Verify(context.Background(), h.m.Generation(), "123456")
	if !mfa.IsCategory(err, mfa.CategoryVerificationUnconfirmed) {
		t.Fatalf("err = %v, want verification-unconfirmed", err)
	}
	if res := h.m.Result(); res == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("Result = %+v, want failed", res)
	}
}

func TestMachine_FactorRemovedBeforeVerify(t *testing.T) {
	w := newWorld(totp("f1"))
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	w.removeFactors()
	err := h.m.Verify(context.Background(), h.m.Generation(), "123456")
	if !mfa.IsCategory(err, mfa.CategoryNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
	if w.verifies != 0 {
		t.Errorf("verifies = %d, want 0", w.verifies)
	}
	if res := h.m.Result(); res == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("Result = %+v, want failed", res)
	}
}

func TestMachine_ProviderExpiredReturnsToAwaiting(t *testing.T) {
	w := newWorld(totp("f1"))
	w.verifyErr = mfa.ErrExpiredChallenge
	h := newHarness(t, w, requireMFA())
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	if err := h.m.Verify(context.Background(), h.m.Generation(), "123456"); !mfa.IsCategory(err, mfa.CategoryExpiredChallenge) {
		t.Fatalf("err = %v, want expired-challenge", err)
	}
	v := h.m.Snapshot()
	if v.State != StateAwaitingChallenge || v.Attempts != 1 {
		t.Errorf("view = %+v, want awaiting-challenge with one attempt", v)
	}
}

func TestMachine_RemembersDevice(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), Options{RequireMFA: true, RememberDevice: true, DeviceFingerprint: "fp", TrustTTLDays: 14})
	mustStart(t, h)
	_ = h.m.RequestChallenge(context.Background())
	if err := h.m.Verify(context.Background(), h.m.Generation(), "123456"); err != nil {
		t.Fatal(err)
	}
	if len(h.trust.recorded) != 1 || h.trust.recorded[0] != 14 {
		t.Errorf("recorded = %v, want one 14-day record", h.trust.recorded)
	}
	if !h.m.Result().DeviceRemembered {
		t.Error("DeviceRemembered should be set")
	}
}

func TestMachine_SubscribeClosesAtTerminal(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	ch, stop := h.m.Subscribe()
	defer stop()
	_ = h.m.RequestChallenge(context.Background())
	h.m.Cancel()

	var got []State
	for ev := range ch {
		got = append(got, ev.State)
	}
	want := []State{StateVerify, StateFailed}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	late, _ := h.m.Subscribe()
	ev, ok := <-late
	if !ok || ev.Outcome != OutcomeCancelled {
		t.Errorf("late subscriber event = %+v, want terminal cancelled", ev)
	}
	if _, ok := <-late; ok {
		t.Error("late subscriber channel should be closed")
	}
}

func TestMachine_VerifyBeforeChallenge(t *testing.T) {
	h := newHarness(t, newWorld(totp("f1")), requireMFA())
	mustStart(t, h)
	if err := h.m.Verify(context.Background(), 0, "123456"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("err = %v, want ErrWrongState", err)
	}
	if err := h.m.Start(context.Background()); !errors.Is(err, ErrWrongState) {
		t.Errorf("second Start err = %v, want ErrWrongState", err)
	}
}
