package domain

import (
	"time"

	mfadomain "schoolhub/backend/internal/mfa/domain"
)

// Policy is a stored Rego module in package schoolhub.elevation. Enabled policies replace the built-in default.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Action names passed to the evaluator.
const (
	ActionSessionElevate   = "session.elevate"
	ActionFactorUnenroll   = "factor.unenroll"
	ActionContactUpdate    = "contact.phone.update"
	ActionDevicesRevokeAll = "devices.revoke_all"
	ActionPolicyWrite      = "policy.write"
)

// Sensitive reports whether action changes security settings of the account or the school.
func Sensitive(action string) bool {
	switch action {
	case ActionFactorUnenroll, ActionContactUpdate, ActionDevicesRevokeAll, ActionPolicyWrite:
		return true
	}
	return false
}

// Decision is the outcome of policy evaluation for one subject and action.
type Decision struct {
	ElevationRequired bool
	// FactorOrder lists acceptable factor kinds, most preferred first.
	FactorOrder    []mfadomain.Kind
	RememberDevice bool
	TrustTTLDays   int
}

// Allows reports whether kind is acceptable under the decision.
func (d Decision) Allows(kind mfadomain.Kind) bool {
	for _, k := range d.FactorOrder {
		if k == kind {
			return true
		}
	}
	return false
}
