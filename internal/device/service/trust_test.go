package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolhub/backend/internal/device/repository"
)

func newTestCache() (*TrustCache, *time.Time) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := NewTrustCache(repository.NewMemoryRepository(), nil)
	c.nowF = func() time.Time { return now }
	return c, &now
}

func TestRecordTrust_IsTrustedUntilExpiry(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache()
	d, err := c.RecordTrust(ctx, "u1", "fp-1", "Laptop", 7)
	if err != nil {
		t.Fatalf("RecordTrust: %v", err)
	}
	if want := now.AddDate(0, 0, 7); !d.TrustedUntil.Equal(want) {
		t.Errorf("TrustedUntil = %v, want %v", d.TrustedUntil, want)
	}
	if !c.IsTrusted(ctx, "u1", "fp-1") {
		t.Fatal("device should be trusted")
	}
	if c.IsTrusted(ctx, "u2", "fp-1") {
		t.Error("trust must be scoped to the user")
	}

	*now = d.TrustedUntil
	if c.IsTrusted(ctx, "u1", "fp-1") {
		t.Error("device should not be trusted once trusted-until is reached")
	}
	list, _ := c.List(ctx, "u1")
	if len(list) != 1 || !list[0].Active {
		t.Error("expired record should still be listed as active")
	}
}

func TestIsTrusted_TouchesLastUsed(t *testing.T) {
	ctx := context.Background()
	c, now := newTestCache()
	d, _ := c.RecordTrust(ctx, "u1", "fp-1", "", 30)
	*now = now.Add(48 * time.Hour)
	if !c.IsTrusted(ctx, "u1", "fp-1") {
		t.Fatal("device should be trusted")
	}
	list, _ := c.List(ctx, "u1")
	if !list[0].LastUsedAt.Equal(*now) {
		t.Errorf("LastUsedAt = %v, want %v", list[0].LastUsedAt, *now)
	}
	if list[0].ID != d.ID {
		t.Errorf("ID = %q, want %q", list[0].ID, d.ID)
	}
}

func TestRecordTrust_ReactivatesSameFingerprint(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()
	first, _ := c.RecordTrust(ctx, "u1", "fp-1", "Old", 7)
	if err := c.Revoke(ctx, "u1", first.ID); err != nil {
		t.Fatal(err)
	}
	second, err := c.RecordTrust(ctx, "u1", "fp-1", "New", 14)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("ID = %q, want reuse of %q", second.ID, first.ID)
	}
	list, _ := c.List(ctx, "u1")
	if len(list) != 1 || list[0].Label != "New" || !list[0].Active {
		t.Errorf("List = %+v, want one active record labelled New", list)
	}
}

func TestRecordTrust_Validation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()
	if _, err := c.RecordTrust(ctx, "u1", "fp", "", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("err = %v, want ErrInvalidDuration", err)
	}
	if _, err := c.RecordTrust(ctx, "u1", "  ", "", 7); !errors.Is(err, ErrMissingDevice) {
		t.Errorf("err = %v, want ErrMissingDevice", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()
	d, _ := c.RecordTrust(ctx, "u1", "fp-1", "", 7)
	if err := c.Revoke(ctx, "u2", d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Revoke(foreign) err = %v, want ErrDeviceNotFound", err)
	}
	if err := c.Revoke(ctx, "u1", "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Revoke(missing) err = %v, want ErrDeviceNotFound", err)
	}
	if err := c.Revoke(ctx, "u1", d.ID); err != nil {
		t.Fatal(err)
	}
	if c.IsTrusted(ctx, "u1", "fp-1") {
		t.Error("revoked device should not be trusted")
	}
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache()
	_, _ = c.RecordTrust(ctx, "u1", "fp-1", "", 7)
	_, _ = c.RecordTrust(ctx, "u1", "fp-2", "", 7)
	_, _ = c.RecordTrust(ctx, "u2", "fp-3", "", 7)
	n, err := c.RevokeAll(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("RevokeAll = %d, %v, want 2", n, err)
	}
	if c.IsTrusted(ctx, "u1", "fp-1") || c.IsTrusted(ctx, "u1", "fp-2") {
		t.Error("user devices should be revoked")
	}
	if !c.IsTrusted(ctx, "u2", "fp-3") {
		t.Error("other users should keep their trust")
	}
}
