package gate

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/audit"
	"schoolhub/backend/internal/mfa"
	"schoolhub/backend/internal/mfa/coordinator"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	policydomain "schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/policy/engine"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

const (
	DefaultConfirmTries    = 5
	DefaultConfirmInterval = 200 * time.Millisecond
)

var (
	// ErrElevationRequired is returned by a Prompter that has no code yet. The challenge, if any,
	// stays current so the next call can verify against it.
	ErrElevationRequired = errors.New("elevation required")
	// ErrPromptCancelled is returned by a Prompter when the user dismissed the prompt.
	ErrPromptCancelled = errors.New("verification prompt cancelled")
	errNotElevated     = errors.New("session not yet elevated")
)

// Sessions reads the current state of a session. A nil session means missing, revoked or expired.
type Sessions interface {
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
}

// Factors lists a user's factors.
type Factors interface {
	List(ctx context.Context, userID string) (*mfadomain.FactorSet, error)
}

// Challenges issues and verifies challenges.
type Challenges interface {
	Issue(ctx context.Context, sessionID string, factor *mfadomain.Factor) (*coordinator.Issued, error)
	Verify(ctx context.Context, issued *coordinator.Issued, code string) (*sessiondomain.Session, error)
	Fresh(sessionID, factorID string) *coordinator.Issued
}

// Prompt is what the user is asked to confirm.
type Prompt struct {
	Action string
	// Kinds lists the factor kinds the code may come from, in the order they are tried.
	Kinds []mfadomain.Kind
	// ChallengeID is the dispatched phone challenge, empty when no SMS was sent.
	ChallengeID string
	// PhoneLabel is the masked number the SMS went to.
	PhoneLabel string
	// DeliveryErr is set when the SMS could not be sent and only TOTP remains.
	DeliveryErr *mfa.Error
}

// Prompter collects a verification code for one guarded action.
type Prompter interface {
	Prompt(ctx context.Context, p Prompt) (string, error)
}

// Request describes the caller and the action being guarded.
type Request struct {
	UserID            string
	SessionID         string
	Role              string
	DeviceFingerprint string
	Action            string
	Prompter          Prompter
}

// DeviceTrust is the trusted device cache.
type DeviceTrust interface {
	IsTrusted(ctx context.Context, userID, fingerprint string) bool
}

// Deps are the collaborators of a Gate. Trust and Audit may be nil.
type Deps struct {
	Policy     engine.Evaluator
	Sessions   Sessions
	Factors    Factors
	Challenges Challenges
	Trust      DeviceTrust
	Audit      audit.AuditLogger
	Logger     *zap.Logger
}

// Config bounds the post-verification session confirmation.
type Config struct {
	ConfirmTries    int
	ConfirmInterval time.Duration
}

// Gate runs units of work only once the caller's session is elevated.
type Gate struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New returns a Gate.
func New(deps Deps, cfg Config) *Gate {
	if cfg.ConfirmTries <= 0 {
		cfg.ConfirmTries = DefaultConfirmTries
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = DefaultConfirmInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{deps: deps, cfg: cfg, logger: logger}
}

// candidate is a factor the code may be verified against, with its challenge once issued.
type candidate struct {
	factor *mfadomain.Factor
	issued *coordinator.Issued
}

// Guard runs unit when policy does not require elevation for the action, the session is
// already elevated, or policy offers device trust and the caller's device is trusted.
// Otherwise it prompts for a code and verifies it against the allowed factors in policy order,
// running unit only after the session is confirmed elevated. unit runs at most once and never
// after a failed or cancelled verification.
func (g *Gate) Guard(ctx context.Context, req Request, unit func(context.Context) error) error {
	sess, err := g.deps.Sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return mfa.Classify(err)
	}
	if sess == nil || sess.UserID != req.UserID {
		return mfa.Classify(mfa.ErrSessionNotActive)
	}
	set, err := g.deps.Factors.List(ctx, req.UserID)
	if err != nil {
		return mfa.Classify(err)
	}

	dec, err := g.deps.Policy.Evaluate(ctx, engine.Input{
		UserID:            req.UserID,
		Role:              req.Role,
		Action:            req.Action,
		DeviceFingerprint: req.DeviceFingerprint,
		HasPhone:          len(set.Phone) > 0,
	})
	if err != nil {
		g.logger.Warn("gate policy degraded", zap.String("action", req.Action), zap.Error(err))
	}
	if !dec.ElevationRequired || sess.Elevated() {
		return unit(ctx)
	}
	if g.trusted(ctx, req, dec) {
		g.record(ctx, req, "trusted_device", "")
		return unit(ctx)
	}

	candidates := orderCandidates(set, dec.FactorOrder)
	if len(candidates) == 0 {
		g.record(ctx, req, "denied", mfa.CategoryNoVerifiedFactors)
		return mfa.NewError(mfa.CategoryNoVerifiedFactors, "no verified factor is allowed for "+req.Action)
	}
	if req.Prompter == nil {
		return ErrElevationRequired
	}

	prompt := Prompt{Action: req.Action}
	candidates, err = g.dispatch(ctx, req, candidates, &prompt)
	if err != nil {
		g.record(ctx, req, "denied", mfa.CategoryOf(err))
		return err
	}
	for _, c := range candidates {
		prompt.Kinds = append(prompt.Kinds, c.factor.Kind)
	}

	code, err := req.Prompter.Prompt(ctx, prompt)
	switch {
	case errors.Is(err, ErrPromptCancelled):
		g.record(ctx, req, "cancelled", mfa.CategoryCancelled)
		return mfa.NewError(mfa.CategoryCancelled, req.Action)
	case err != nil:
		return err
	}
	code = mfa.SanitizeCode(code)
	if err := mfa.ValidateCode(code); err != nil {
		return err
	}

	if err := g.verify(ctx, req, candidates, code); err != nil {
		g.record(ctx, req, "denied", mfa.CategoryOf(err))
		return err
	}
	if _, err := g.confirm(ctx, req.SessionID); err != nil {
		g.logger.Warn("gate could not confirm elevation", zap.String("session_id", req.SessionID), zap.Error(err))
		g.record(ctx, req, "denied", mfa.CategoryVerificationUnconfirmed)
		return &mfa.Error{Category: mfa.CategoryVerificationUnconfirmed, Raw: err.Error(), Err: err}
	}
	g.record(ctx, req, "elevated", "")
	return unit(ctx)
}

// dispatch issues or reuses the phone challenge. When SMS cannot be sent the phone candidate is
// dropped as long as another kind remains; otherwise the delivery error is returned.
func (g *Gate) dispatch(ctx context.Context, req Request, candidates []*candidate, prompt *Prompt) ([]*candidate, error) {
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.factor.Kind != mfadomain.KindPhone {
			out = append(out, c)
			continue
		}
		if cur := g.deps.Challenges.Fresh(req.SessionID, c.factor.ID); cur != nil {
			c.issued = cur
		} else {
			issued, err := g.deps.Challenges.Issue(ctx, req.SessionID, c.factor)
			if err != nil {
				me := mfa.Classify(err)
				if len(candidates) == 1 {
					return nil, me
				}
				g.logger.Info("gate phone challenge unavailable, falling back",
					zap.String("action", req.Action), zap.String("category", string(me.Category)))
				prompt.DeliveryErr = me
				continue
			}
			c.issued = issued
		}
		prompt.ChallengeID = c.issued.ChallengeID
		prompt.PhoneLabel = c.factor.Label
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, prompt.DeliveryErr
	}
	return out, nil
}

// verify tries code against each candidate in order. It moves on after an invalid-code or
// rate-limited result, so a locked factor never blocks the code of the next one; the last
// candidate's error is returned.
func (g *Gate) verify(ctx context.Context, req Request, candidates []*candidate, code string) error {
	var last error
	for _, c := range candidates {
		if c.issued == nil {
			issued, err := g.deps.Challenges.Issue(ctx, req.SessionID, c.factor)
			if err != nil {
				return mfa.Classify(err)
			}
			c.issued = issued
		}
		_, err := g.deps.Challenges.Verify(ctx, c.issued, code)
		if err == nil {
			return nil
		}
		switch mfa.CategoryOf(err) {
		case mfa.CategoryInvalidCode, mfa.CategoryRateLimited:
			last = err
		default:
			return mfa.Classify(err)
		}
	}
	return mfa.Classify(last)
}

// trusted reports whether policy offers device trust and the caller's device holds an unexpired record.
func (g *Gate) trusted(ctx context.Context, req Request, dec policydomain.Decision) bool {
	if g.deps.Trust == nil || !dec.RememberDevice || req.DeviceFingerprint == "" {
		return false
	}
	return g.deps.Trust.IsTrusted(ctx, req.UserID, req.DeviceFingerprint)
}

// confirm polls the session until it reports elevated assurance.
func (g *Gate) confirm(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.ConfirmInterval
	b.MaxInterval = 8 * g.cfg.ConfirmInterval
	op := func() (*sessiondomain.Session, error) {
		sess, err := g.deps.Sessions.GetSession(ctx, sessionID)
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
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(g.cfg.ConfirmTries)))
}

func (g *Gate) record(ctx context.Context, req Request, outcome string, category mfa.Category) {
	if g.deps.Audit == nil {
		return
	}
	g.deps.Audit.LogEvent(ctx, req.UserID, "guard", "elevation",
		audit.Metadata("action", req.Action, "outcome", outcome, "category", string(category)))
}

// orderCandidates returns the first verified factor of each allowed kind, in policy order.
func orderCandidates(set *mfadomain.FactorSet, order []mfadomain.Kind) []*candidate {
	var out []*candidate
	for _, kind := range order {
		var list []*mfadomain.Factor
		switch kind {
		case mfadomain.KindPhone:
			list = set.Phone
		case mfadomain.KindTOTP:
			list = set.TOTP
		}
		if len(list) > 0 {
			out = append(out, &candidate{factor: list[0]})
		}
	}
	return out
}
