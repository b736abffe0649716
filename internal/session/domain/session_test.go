package domain

import (
	"testing"
	"time"
)

func TestSession_Active(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Add(time.Hour)}
	if !s.Active(now) {
		t.Error("unexpired session should be active")
	}
	if s.Active(now.Add(time.Hour)) {
		t.Error("session should be inactive at ExpiresAt")
	}
	revoked := now
	s.RevokedAt = &revoked
	if s.Active(now) {
		t.Error("revoked session should be inactive")
	}
	var nilSession *Session
	if nilSession.Active(now) || nilSession.Elevated() {
		t.Error("nil session should be neither active nor elevated")
	}
}
