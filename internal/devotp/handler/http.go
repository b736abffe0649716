// Package handler serves the dev-only OTP lookup. It is mounted only when dev OTP mode is on
// outside production.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/devotp"
	"schoolhub/backend/internal/platform/httpx"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads plain codes from the dev store.
type Handler struct {
	store  devotp.Store
	logger *zap.Logger
}

// NewHandler returns a dev OTP Handler over store.
func NewHandler(store devotp.Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts GET /dev/mfa/otp.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dev/mfa/otp", h.GetOTP)
}

// GetOTP returns the plain code for challenge_id. Missing or expired codes are not found.
func (h *Handler) GetOTP(w http.ResponseWriter, r *http.Request) {
	challengeID := r.URL.Query().Get("challenge_id")
	if challengeID == "" {
		httpx.Error(w, h.logger, httpx.ErrBadRequest)
		return
	}
	otp, ok := h.store.Get(r.Context(), challengeID)
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"otp": otp, "note": devOTPNote})
}
