package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"schoolhub/backend/internal/audit/domain"
	auditrepo "schoolhub/backend/internal/audit/repository"
	"schoolhub/backend/internal/server/interceptors"
	userdomain "schoolhub/backend/internal/user/domain"
)

func seed(t *testing.T) *auditrepo.MemoryRepository {
	t.Helper()
	repo := auditrepo.NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range []string{"user-1", "user-1", "user-1", "user-2"} {
		err := repo.Create(context.Background(), &domain.AuditLog{
			ID: string(rune('a' + i)), UserID: u, Action: "guard", Resource: "elevation", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return repo
}

func list(t *testing.T, repo auditrepo.Repository, role userdomain.Role, query string) (*httptest.ResponseRecorder, []entryView) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/audit"+query, nil)
	req = req.WithContext(interceptors.WithIdentity(req.Context(), interceptors.Identity{UserID: "user-1", Role: role}))
	rec := httptest.NewRecorder()
	NewHandler(repo, zap.NewNop()).List(rec, req)
	var body struct {
		Entries []entryView `json:"entries"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body.Entries
}

func TestList_OwnEntriesNewestFirst(t *testing.T) {
	rec, entries := list(t, seed(t), userdomain.RoleParent, "?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(entries) != 2 || entries[0].ID != "c" || entries[1].ID != "b" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestList_OtherUserNeedsAdmin(t *testing.T) {
	repo := seed(t)
	if rec, _ := list(t, repo, userdomain.RoleTeacher, "?user_id=user-2"); rec.Code != http.StatusForbidden {
		t.Errorf("teacher status = %d, want 403", rec.Code)
	}
	rec, entries := list(t, repo, userdomain.RoleAdmin, "?user_id=user-2")
	if rec.Code != http.StatusOK || len(entries) != 1 || entries[0].UserID != "user-2" {
		t.Errorf("admin status = %d entries = %+v", rec.Code, entries)
	}
}

func TestList_BadPaging(t *testing.T) {
	if rec, _ := list(t, seed(t), userdomain.RoleParent, "?offset=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
