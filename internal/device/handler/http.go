package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/device/domain"
	"schoolhub/backend/internal/device/service"
	"schoolhub/backend/internal/gate"
	"schoolhub/backend/internal/platform/httpx"
	policydomain "schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/server/interceptors"
)

// Trust lists and revokes the caller's trusted devices.
type Trust interface {
	List(ctx context.Context, userID string) ([]*domain.TrustedDevice, error)
	Revoke(ctx context.Context, userID, recordID string) error
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// Handler serves the /devices routes.
type Handler struct {
	trust  Trust
	gate   gate.Guarder
	logger *zap.Logger
	nowF   func() time.Time
}

// NewHandler returns a device Handler.
func NewHandler(trust Trust, g gate.Guarder, logger *zap.Logger) *Handler {
	return &Handler{trust: trust, gate: g, logger: logger, nowF: time.Now}
}

// RegisterRoutes mounts the device routes. Revoking every device is guarded.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/devices", h.List)
	r.Delete("/devices/{id}", h.Revoke)
	r.Delete("/devices", h.RevokeAll)
}

type deviceView struct {
	ID           string    `json:"id"`
	Label        string    `json:"label,omitempty"`
	Current      bool      `json:"current"`
	Trusted      bool      `json:"trusted"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	TrustedUntil time.Time `json:"trusted_until"`
}

// List returns the caller's trust records. Fingerprints are never returned.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	devices, err := h.trust.List(r.Context(), id.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	now := h.nowF()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{
			ID:           d.ID,
			Label:        d.Label,
			Current:      id.DeviceID != "" && d.Fingerprint == id.DeviceID,
			Trusted:      d.IsEffectivelyTrusted(now),
			CreatedAt:    d.CreatedAt,
			LastUsedAt:   d.LastUsedAt,
			TrustedUntil: d.TrustedUntil,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string][]deviceView{"devices": out})
}

// Revoke ends trust for one device.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	err := h.trust.Revoke(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrDeviceNotFound) {
		err = errors.Join(httpx.ErrNotFound, err)
	}
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll ends trust for every device after the gate confirms a fresh elevation.
func (h *Handler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	var n int
	ok := gate.Serve(w, r, h.gate, h.logger, policydomain.ActionDevicesRevokeAll, func(ctx context.Context) error {
		id, _ := interceptors.IdentityFrom(ctx)
		var err error
		n, err = h.trust.RevokeAll(ctx, id.UserID)
		return err
	})
	if ok {
		httpx.JSON(w, http.StatusOK, map[string]int{"revoked": n})
	}
}
