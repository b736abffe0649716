package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/policy/repository"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e := NewOPAEvaluator(nil, 30, nil)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicyByRole(t *testing.T) {
	e := NewOPAEvaluator(repository.NewMemoryRepository(), 30, nil)
	testCases := []struct {
		role     string
		action   string
		required bool
		ttl      int
	}{
		{"admin", domain.ActionSessionElevate, true, 7},
		{"teacher", domain.ActionSessionElevate, true, 14},
		{"teacher", domain.ActionFactorUnenroll, true, 14},
		{"parent", domain.ActionSessionElevate, false, 30},
		{"parent", domain.ActionContactUpdate, true, 30},
		{"student", domain.ActionSessionElevate, false, 30},
		{"student", domain.ActionDevicesRevokeAll, false, 30},
	}
	for _, tc := range testCases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			dec, err := e.Evaluate(context.Background(), Input{UserID: "u1", Role: tc.role, Action: tc.action, DeviceFingerprint: "fp"})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if dec.ElevationRequired != tc.required {
				t.Errorf("ElevationRequired = %v, want %v", dec.ElevationRequired, tc.required)
			}
			if dec.TrustTTLDays != tc.ttl {
				t.Errorf("TrustTTLDays = %d, want %d", dec.TrustTTLDays, tc.ttl)
			}
			if len(dec.FactorOrder) != 2 || dec.FactorOrder[0] != mfadomain.KindPhone || dec.FactorOrder[1] != mfadomain.KindTOTP {
				t.Errorf("FactorOrder = %v, want [phone-otp totp]", dec.FactorOrder)
			}
			if !dec.RememberDevice {
				t.Error("RememberDevice should be true when a fingerprint is present")
			}
		})
	}
}

func TestOPAEvaluator_DefaultTTLFromSettings(t *testing.T) {
	e := NewOPAEvaluator(nil, 45, nil)
	dec, err := e.Evaluate(context.Background(), Input{Role: "parent", Action: domain.ActionSessionElevate})
	if err != nil {
		t.Fatal(err)
	}
	if dec.TrustTTLDays != 45 {
		t.Errorf("TrustTTLDays = %d, want 45", dec.TrustTTLDays)
	}
	if dec.RememberDevice {
		t.Error("RememberDevice should be false without a fingerprint")
	}
}

func TestOPAEvaluator_CustomPolicyReplacesDefault(t *testing.T) {
	repo := repository.NewMemoryRepository()
	_ = repo.Create(context.Background(), &domain.Policy{
		ID:      "p1",
		Name:    "totp only",
		Enabled: true,
		Rules: `package schoolhub.elevation

default elevation_required := true
default factor_order := ["totp", "sms", "totp"]
default trust_ttl_days := 3
`,
		CreatedAt: time.Now(),
	})
	e := NewOPAEvaluator(repo, 30, nil)
	dec, err := e.Evaluate(context.Background(), Input{Role: "student", Action: domain.ActionSessionElevate})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.ElevationRequired {
		t.Error("custom policy should require elevation for students")
	}
	if len(dec.FactorOrder) != 1 || dec.FactorOrder[0] != mfadomain.KindTOTP {
		t.Errorf("FactorOrder = %v, want [totp]", dec.FactorOrder)
	}
	if dec.TrustTTLDays != 3 {
		t.Errorf("TrustTTLDays = %d, want 3", dec.TrustTTLDays)
	}
}

func TestOPAEvaluator_DisabledPolicyIgnored(t *testing.T) {
	repo := repository.NewMemoryRepository()
	_ = repo.Create(context.Background(), &domain.Policy{
		ID:    "p1",
		Rules: "package schoolhub.elevation\n\ndefault elevation_required := true\n",
	})
	e := NewOPAEvaluator(repo, 30, nil)
	dec, _ := e.Evaluate(context.Background(), Input{Role: "student", Action: domain.ActionSessionElevate})
	if dec.ElevationRequired {
		t.Error("disabled policy should not apply")
	}
}

func TestOPAEvaluator_BrokenPolicyFailsClosed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	_ = repo.Create(context.Background(), &domain.Policy{ID: "p1", Enabled: true, Rules: "package schoolhub.elevation\n\nthis is not rego"})
	e := NewOPAEvaluator(repo, 30, nil)
	dec, err := e.Evaluate(context.Background(), Input{Role: "student", Action: domain.ActionSessionElevate})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !dec.ElevationRequired || dec.RememberDevice {
		t.Errorf("decision = %+v, want elevation required without device trust", dec)
	}
}

type failingRepo struct{ repository.Repository }

func (failingRepo) GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error) {
	return nil, errors.New("db down")
}

func TestOPAEvaluator_RepoErrorUsesDefault(t *testing.T) {
	e := NewOPAEvaluator(failingRepo{}, 30, nil)
	dec, err := e.Evaluate(context.Background(), Input{Role: "admin", Action: domain.ActionSessionElevate})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.ElevationRequired || dec.TrustTTLDays != 7 {
		t.Errorf("decision = %+v, want default admin decision", dec)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(DefaultRegoPolicy); err != nil {
		t.Errorf("Validate(default): %v", err)
	}
	if err := Validate("package other\n\nx := 1\n"); !errors.Is(err, ErrWrongPackage) {
		t.Errorf("Validate(other package) err = %v, want ErrWrongPackage", err)
	}
	if err := Validate("package schoolhub.elevation\n\nx := \n"); err == nil {
		t.Error("Validate should reject malformed rules")
	}
}
