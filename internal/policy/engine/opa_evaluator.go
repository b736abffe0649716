package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/policy/repository"
)

const (
	policyPackage = "data.schoolhub.elevation"
	// DefaultTrustTTLDays is used when no setting is configured.
	DefaultTrustTTLDays = 30
)

// ErrWrongPackage is returned by Validate for modules outside package schoolhub.elevation.
var ErrWrongPackage = errors.New("policy must declare package schoolhub.elevation")

// DefaultRegoPolicy applies when no stored policy is enabled.
const DefaultRegoPolicy = `package schoolhub.elevation

default elevation_required := false
default remember_device := false
default trust_ttl_days := 30
default factor_order := ["phone-otp", "totp"]

privileged_roles := {"admin", "teacher"}

privileged if input.user.role in privileged_roles

elevation_required if privileged

elevation_required if {
	input.user.role == "parent"
	input.action.sensitive
}

remember_device if input.device.fingerprint != ""

trust_ttl_days := 7 if input.user.role == "admin"

trust_ttl_days := 14 if input.user.role == "teacher"

trust_ttl_days := input.settings.default_trust_ttl_days if {
	not privileged
	input.settings.default_trust_ttl_days > 0
}
`

// OPAEvaluator evaluates elevation policies using OPA Rego. Evaluation failures fail closed:
// elevation is required and device trust is not offered.
type OPAEvaluator struct {
	policyRepo repository.Repository
	defaultTTL int
	logger     *zap.Logger

	mu       sync.Mutex
	cacheKey string
	compiler *ast.Compiler
}

// NewOPAEvaluator returns an OPA-based policy evaluator. policyRepo may be nil, in which case only
// the default policy is used.
func NewOPAEvaluator(policyRepo repository.Repository, defaultTTLDays int, logger *zap.Logger) *OPAEvaluator {
	if defaultTTLDays <= 0 {
		defaultTTLDays = DefaultTrustTTLDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OPAEvaluator{policyRepo: policyRepo, defaultTTL: defaultTTLDays, logger: logger}
}

// HealthCheck verifies that the in-process engine can compile and evaluate the default policy.
// Does not call the policy repo or database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"default.rego": DefaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	_, err = e.eval(ctx, compiler, e.buildInput(Input{Role: "student", Action: domain.ActionSessionElevate}))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	return nil
}

// Validate parses and compiles rules as a stand-alone policy module.
func Validate(rules string) error {
	m, err := ast.ParseModule("policy.rego", rules)
	if err != nil {
		return err
	}
	if m.Package.Path.String() != policyPackage {
		return ErrWrongPackage
	}
	_, err = ast.CompileModules(map[string]string{"policy.rego": rules})
	return err
}

// Evaluate returns the decision for in. The returned error is informational; the decision is
// always usable.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (domain.Decision, error) {
	compiler, err := e.compilerFor(ctx)
	if err != nil {
		e.logger.Error("policy compile failed, failing closed", zap.Error(err))
		return e.failClosed(), err
	}
	dec, err := e.eval(ctx, compiler, e.buildInput(in))
	if err != nil {
		e.logger.Error("policy evaluation failed, failing closed",
			zap.String("user_id", in.UserID), zap.String("action", in.Action), zap.Error(err))
		return e.failClosed(), err
	}
	return dec, nil
}

func (e *OPAEvaluator) compilerFor(ctx context.Context) (*ast.Compiler, error) {
	var policies []string
	if e.policyRepo != nil {
		enabled, err := e.policyRepo.GetEnabledPolicies(ctx)
		if err != nil {
			e.logger.Warn("policy: failed to load policies, using default", zap.Error(err))
		}
		for _, p := range enabled {
			if p.Enabled && strings.TrimSpace(p.Rules) != "" {
				policies = append(policies, p.Rules)
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{DefaultRegoPolicy}
	}

	key := strings.Join(policies, "\x00")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.compiler != nil && e.cacheKey == key {
		return e.compiler, nil
	}
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	e.cacheKey, e.compiler = key, compiler
	return compiler, nil
}

func (e *OPAEvaluator) buildInput(in Input) map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":        in.UserID,
			"role":      in.Role,
			"has_phone": in.HasPhone,
		},
		"action": map[string]interface{}{
			"name":      in.Action,
			"sensitive": domain.Sensitive(in.Action),
		},
		"device": map[string]interface{}{
			"fingerprint": in.DeviceFingerprint,
		},
		"settings": map[string]interface{}{
			"default_trust_ttl_days": e.defaultTTL,
		},
	}
}

func (e *OPAEvaluator) eval(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}) (domain.Decision, error) {
	rs, err := rego.New(
		rego.Query(policyPackage),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.Decision{}, errors.New("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return domain.Decision{}, fmt.Errorf("policy result has type %T", rs[0].Expressions[0].Value)
	}

	out := domain.Decision{
		ElevationRequired: true,
		FactorOrder:       defaultOrder(),
		TrustTTLDays:      e.defaultTTL,
	}
	if v, ok := doc["elevation_required"].(bool); ok {
		out.ElevationRequired = v
	}
	if v, ok := doc["remember_device"].(bool); ok {
		out.RememberDevice = v
	}
	if days := intValue(doc["trust_ttl_days"]); days > 0 {
		out.TrustTTLDays = days
	}
	if order := kindList(doc["factor_order"]); len(order) > 0 {
		out.FactorOrder = order
	}
	return out, nil
}

func (e *OPAEvaluator) failClosed() domain.Decision {
	return domain.Decision{
		ElevationRequired: true,
		FactorOrder:       defaultOrder(),
		TrustTTLDays:      e.defaultTTL,
	}
}

func defaultOrder() []mfadomain.Kind {
	return []mfadomain.Kind{mfadomain.KindPhone, mfadomain.KindTOTP}
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// kindList keeps known factor kinds in order and drops duplicates.
func kindList(v interface{}) []mfadomain.Kind {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []mfadomain.Kind
	seen := make(map[mfadomain.Kind]bool)
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		k := mfadomain.Kind(s)
		if k.Valid() && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
