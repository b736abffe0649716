package audit

import (
	"context"
	"errors"
	"testing"

	"schoolhub/backend/internal/audit/domain"
	auditrepo "schoolhub/backend/internal/audit/repository"
)

type failingRepo struct{ auditrepo.Repository }

func (failingRepo) Create(ctx context.Context, a *domain.AuditLog) error {
	return errors.New("db down")
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	logger := NewLogger(repo, func(ctx context.Context) string { return "192.168.1.1" }, nil)

	logger.LogEvent(context.Background(), "user-1", "delete", "factor", `{"factor_id":"f1"}`)

	entries := repo.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.Action != "delete" || entry.Resource != "factor" {
		t.Errorf("action/resource = %q/%q, want delete/factor", entry.Action, entry.Resource)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Error("entry ID and CreatedAt should be set")
	}
}

func TestLogger_LogEvent_UnknownIP(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	NewLogger(repo, nil, nil).LogEvent(context.Background(), "", "login_failure", "auth", "")
	if got := repo.Entries()[0].IP; got != "unknown" {
		t.Errorf("ip = %q, want unknown", got)
	}
}

func TestLogger_LogEvent_RepoErrorIsSwallowed(t *testing.T) {
	NewLogger(failingRepo{}, nil, nil).LogEvent(context.Background(), "u1", "create", "factor", "")
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	NewLogger(nil, nil, nil).LogEvent(context.Background(), "u1", "create", "factor", "")
}

func TestMetadata(t *testing.T) {
	if got := Metadata("factor_id", "f1", "kind", "totp"); got != `{"factor_id":"f1","kind":"totp"}` {
		t.Errorf("Metadata = %s", got)
	}
	if got := Metadata("dangling"); got != "" {
		t.Errorf("Metadata(dangling) = %q, want empty", got)
	}
}
