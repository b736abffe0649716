package domain

import (
	"testing"
	"time"
)

func TestNewFactorSet_SplitsVerifiedByKind(t *testing.T) {
	factors := []*Factor{
		{ID: "f1", Kind: KindTOTP, Status: StatusVerified},
		{ID: "f2", Kind: KindPhone, Status: StatusPending},
		{ID: "f3", Kind: KindPhone, Status: StatusVerified},
	}
	set := NewFactorSet(factors)
	if len(set.All) != 3 {
		t.Errorf("len(All) = %d, want 3", len(set.All))
	}
	if len(set.TOTP) != 1 || set.TOTP[0].ID != "f1" {
		t.Errorf("TOTP = %v, want [f1]", set.TOTP)
	}
	if len(set.Phone) != 1 || set.Phone[0].ID != "f3" {
		t.Errorf("Phone = %v, want [f3]", set.Phone)
	}
	if got := set.Verified(); len(got) != 2 {
		t.Errorf("len(Verified) = %d, want 2", len(got))
	}
	if set.Find("f2") == nil {
		t.Error("Find should return pending factors")
	}
	if set.Find("missing") != nil {
		t.Error("Find should return nil for unknown id")
	}
}

func TestChallenge_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := &Challenge{ExpiresAt: now.Add(time.Minute)}
	if c.Expired(now) {
		t.Error("challenge should not be expired before ExpiresAt")
	}
	if !c.Expired(now.Add(time.Minute)) {
		t.Error("challenge should be expired at ExpiresAt")
	}
}

func TestKind_Valid(t *testing.T) {
	if !KindTOTP.Valid() || !KindPhone.Valid() {
		t.Error("known kinds should be valid")
	}
	if Kind("email").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
