// Package elevation drives a password-authenticated session to elevated assurance through
// factor selection, challenge issuance and code verification.
package elevation

import (
	"time"

	"schoolhub/backend/internal/mfa"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	sessiondomain "schoolhub/backend/internal/session/domain"
)

// State is a step of the elevation flow.
type State string

const (
	StateLoading           State = "loading"
	StateSelectFactor      State = "select-factor"
	StateAwaitingChallenge State = "awaiting-challenge"
	StateVerify            State = "verify"
	StateComplete          State = "complete"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// Outcome is the final result of an attempt.
type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

const (
	DefaultMaxAttempts     = 5
	DefaultConfirmTries    = 5
	DefaultConfirmInterval = 200 * time.Millisecond
	DefaultWarnAfter       = 4 * time.Minute
)

// Options configures one elevation attempt.
type Options struct {
	// RequireMFA false completes immediately with the current session unless ForceReverify is set.
	RequireMFA bool
	// AllowedFactorKinds restricts and orders the factors offered. Nil allows every kind;
	// a non-nil empty slice allows none.
	AllowedFactorKinds []mfadomain.Kind
	// RememberDevice records device trust for TrustTTLDays after a verified elevation.
	RememberDevice    bool
	ForceReverify     bool
	DeviceFingerprint string
	DeviceLabel       string
	TrustTTLDays      int
	MaxAttempts       int
	WarnAfter         time.Duration
	ConfirmTries      int
	ConfirmInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ConfirmTries <= 0 {
		o.ConfirmTries = DefaultConfirmTries
	}
	if o.ConfirmInterval <= 0 {
		o.ConfirmInterval = DefaultConfirmInterval
	}
	if o.WarnAfter <= 0 {
		o.WarnAfter = DefaultWarnAfter
	}
	return o
}

// Result is the terminal outcome of an attempt. TrustedDevice is set when the attempt was
// satisfied by device trust instead of a challenge.
type Result struct {
	Outcome          Outcome
	Session          *sessiondomain.Session
	TrustedDevice    bool
	DeviceRemembered bool
	Err              *mfa.Error
}

// ErrorView is the user-safe form of a categorized error.
type ErrorView struct {
	Category    mfa.Category `json:"category"`
	Message     string       `json:"message"`
	WaitSeconds int          `json:"wait_seconds,omitempty"`
}

func errorView(e *mfa.Error) *ErrorView {
	if e == nil {
		return nil
	}
	return &ErrorView{Category: e.Category, Message: e.UserMessage(), WaitSeconds: e.WaitSeconds}
}

// FactorView describes a factor offered by the attempt.
type FactorView struct {
	ID    string         `json:"id"`
	Kind  mfadomain.Kind `json:"kind"`
	Label string         `json:"label,omitempty"`
}

// Event is published on every transition and on in-state changes such as a new error,
// a countdown starting or clearing, or a challenge nearing expiry.
type Event struct {
	AttemptID       string         `json:"attempt_id"`
	Seq             uint64         `json:"seq"`
	State           State          `json:"state"`
	Previous        State          `json:"previous,omitempty"`
	Generation      uint64         `json:"generation"`
	FactorID        string         `json:"factor_id,omitempty"`
	FactorKind      mfadomain.Kind `json:"factor_kind,omitempty"`
	ChallengeID     string         `json:"challenge_id,omitempty"`
	ExpiringSoon    bool           `json:"expiring_soon,omitempty"`
	CooldownSeconds int            `json:"cooldown_seconds,omitempty"`
	Attempts        int            `json:"attempts"`
	Outcome         Outcome        `json:"outcome,omitempty"`
	Error           *ErrorView     `json:"error,omitempty"`
	At              time.Time      `json:"at"`
}

// View is a point-in-time snapshot of an attempt.
type View struct {
	ID                string                  `json:"id"`
	State             State                   `json:"state"`
	Factors           []FactorView            `json:"factors"`
	SelectedFactorID  string                  `json:"selected_factor_id,omitempty"`
	Generation        uint64                  `json:"generation"`
	ChallengeID       string                  `json:"challenge_id,omitempty"`
	ChallengeIssuedAt *time.Time              `json:"challenge_issued_at,omitempty"`
	ExpiringSoon      bool                    `json:"expiring_soon,omitempty"`
	Attempts          int                     `json:"attempts"`
	MaxAttempts       int                     `json:"max_attempts"`
	CooldownSeconds   int                     `json:"cooldown_seconds,omitempty"`
	Outcome           Outcome                 `json:"outcome,omitempty"`
	TrustedDevice     bool                    `json:"trusted_device,omitempty"`
	Assurance         sessiondomain.Assurance `json:"assurance,omitempty"`
	Error             *ErrorView              `json:"error,omitempty"`
}
