package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/devotp"
)

func TestGetOTP(t *testing.T) {
	store := devotp.NewMemoryStore()
	store.Put(context.Background(), "c-1", "123456", time.Now().Add(time.Minute))
	store.Put(context.Background(), "c-old", "654321", time.Now().Add(-time.Minute))
	r := chi.NewRouter()
	NewHandler(store, zap.NewNop()).RegisterRoutes(r)

	testCases := []struct {
		query  string
		status int
	}{
		{"?challenge_id=c-1", http.StatusOK},
		{"?challenge_id=c-old", http.StatusNotFound},
		{"?challenge_id=missing", http.StatusNotFound},
		{"", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/mfa/otp"+tc.query, nil))
		if rec.Code != tc.status {
			t.Errorf("%q: status = %d, want %d", tc.query, rec.Code, tc.status)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/mfa/otp?challenge_id=c-1", nil))
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["otp"] != "123456" || body["note"] != devOTPNote {
		t.Errorf("body = %v", body)
	}
}
