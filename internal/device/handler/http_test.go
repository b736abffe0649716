package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/device/repository"
	"schoolhub/backend/internal/device/service"
	"schoolhub/backend/internal/gate"
	"schoolhub/backend/internal/server/interceptors"
)

type allowGate struct {
	calls int
}

func (g *allowGate) Guard(ctx context.Context, req gate.Request, unit func(context.Context) error) error {
	g.calls++
	if _, err := req.Prompter.Prompt(ctx, gate.Prompt{Action: req.Action}); err != nil {
		return err
	}
	return unit(ctx)
}

func newFixture(t *testing.T) (*service.TrustCache, *allowGate, http.Handler) {
	t.Helper()
	trust := service.NewTrustCache(repository.NewMemoryRepository(), zap.NewNop())
	ctx := context.Background()
	for _, fp := range []string{"fp-1", "fp-2"} {
		if _, err := trust.RecordTrust(ctx, "user-1", fp, "Laptop "+fp, 7); err != nil {
			t.Fatalf("RecordTrust: %v", err)
		}
	}
	if _, err := trust.RecordTrust(ctx, "user-2", "fp-9", "Other", 7); err != nil {
		t.Fatalf("RecordTrust: %v", err)
	}
	g := &allowGate{}
	h := NewHandler(trust, g, zap.NewNop())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := interceptors.WithIdentity(req.Context(), interceptors.Identity{UserID: "user-1", SessionID: "session-1", DeviceID: "fp-1"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.RegisterRoutes(r)
	return trust, g, r
}

func listDevices(t *testing.T, h http.Handler) []deviceView {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var body map[string][]deviceView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body["devices"]
}

func TestList(t *testing.T) {
	_, _, h := newFixture(t)
	devices := listDevices(t, h)
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	current := 0
	for _, d := range devices {
		if !d.Trusted {
			t.Errorf("device %s not trusted", d.ID)
		}
		if d.Current {
			current++
		}
	}
	if current != 1 {
		t.Errorf("current devices = %d, want 1", current)
	}
}

func TestRevoke(t *testing.T) {
	trust, _, h := newFixture(t)
	devices := listDevices(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/devices/"+devices[0].ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if trust.IsTrusted(context.Background(), "user-1", "fp-1") && trust.IsTrusted(context.Background(), "user-1", "fp-2") {
		t.Error("no device was revoked")
	}

	other, _ := trust.List(context.Background(), "user-2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/devices/"+other[0].ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign device status = %d, want 404", rec.Code)
	}
}

func TestRevokeAll_Guarded(t *testing.T) {
	trust, g, h := newFixture(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/devices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without code status = %d, want 401", rec.Code)
	}
	if !trust.IsTrusted(context.Background(), "user-1", "fp-1") {
		t.Fatal("devices revoked without elevation")
	}

	req := httptest.NewRequest(http.MethodDelete, "/devices", nil)
	req.Header.Set(gate.HeaderElevationCode, "123456")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]int
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["revoked"] != 2 {
		t.Errorf("revoked = %d, want 2", body["revoked"])
	}
	if g.calls != 2 {
		t.Errorf("gate calls = %d, want 2", g.calls)
	}
	if !trust.IsTrusted(context.Background(), "user-2", "fp-9") {
		t.Error("other user's device was revoked")
	}
}
