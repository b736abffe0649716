package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/elevation"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/server/interceptors"
)

// Attempts creates and looks up elevation attempts.
type Attempts interface {
	Create(ctx context.Context, req elevation.CreateRequest) (*elevation.Machine, error)
	Get(userID, id string) (*elevation.Machine, error)
}

// Handler serves the /elevations routes.
type Handler struct {
	attempts Attempts
	logger   *zap.Logger
}

// NewHandler returns an elevation Handler.
func NewHandler(attempts Attempts, logger *zap.Logger) *Handler {
	return &Handler{attempts: attempts, logger: logger}
}

// RegisterRoutes mounts the request/response routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/elevations", h.Create)
	r.Get("/elevations/{id}", h.Get)
	r.Post("/elevations/{id}/factor", h.SelectFactor)
	r.Post("/elevations/{id}/challenge", h.RequestChallenge)
	r.Post("/elevations/{id}/verify", h.Verify)
	r.Post("/elevations/{id}/cancel", h.Cancel)
}

// RegisterStreamRoutes mounts the long-lived event stream. Mount it outside request timeouts.
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/elevations/{id}/events", h.Events)
}

type createRequest struct {
	ForceReverify bool             `json:"force_reverify,omitempty"`
	FactorKinds   []mfadomain.Kind `json:"factor_kinds,omitempty"`
	DeviceLabel   string           `json:"device_label,omitempty"`
}

// Create starts an attempt for the caller's session, cancelling any previous one.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	var req createRequest
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, h.logger, err)
			return
		}
	}
	m, err := h.attempts.Create(r.Context(), elevation.CreateRequest{
		UserID:            id.UserID,
		SessionID:         id.SessionID,
		Role:              string(id.Role),
		DeviceFingerprint: id.DeviceID,
		DeviceLabel:       req.DeviceLabel,
		ForceReverify:     req.ForceReverify,
		FactorKinds:       req.FactorKinds,
	})
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m.Snapshot())
}

// Get returns the current view of an attempt.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, m.Snapshot())
}

type factorRequest struct {
	FactorID string `json:"factor_id"`
}

// SelectFactor chooses the factor to verify with.
func (h *Handler) SelectFactor(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	var req factorRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	h.respond(w, m, m.SelectFactor(req.FactorID))
}

// RequestChallenge issues a challenge for the selected factor.
func (h *Handler) RequestChallenge(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	h.respond(w, m, m.RequestChallenge(r.Context()))
}

type verifyRequest struct {
	Generation uint64 `json:"generation"`
	Code       string `json:"code"`
}

// Verify submits a code for the challenge of the given generation.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	h.respond(w, m, m.Verify(r.Context(), req.Generation, req.Code))
}

// Cancel stops the attempt. Cancelling a finished attempt is a no-op.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	m.Cancel()
	httpx.JSON(w, http.StatusOK, m.Snapshot())
}

// Events streams transitions as server-sent events. The first event is the current snapshot;
// the stream ends after the terminal transition.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	m, ok := h.attempt(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Error(w, h.logger, errors.New("streaming unsupported"))
		return
	}
	events, stop := m.Subscribe()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, "snapshot", m.Snapshot()); err != nil {
		return
	}
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, "transition", ev); err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}

func (h *Handler) attempt(w http.ResponseWriter, r *http.Request) (*elevation.Machine, bool) {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return nil, false
	}
	m, err := h.attempts.Get(id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, h.logger, classify(err))
		return nil, false
	}
	return m, true
}

// respond writes the attempt view, or the error with the view attached so the client can render
// the current step.
func (h *Handler) respond(w http.ResponseWriter, m *elevation.Machine, err error) {
	if err == nil {
		httpx.JSON(w, http.StatusOK, m.Snapshot())
		return
	}
	httpx.ErrorWith(w, h.logger, classify(err), m.Snapshot())
}

func classify(err error) error {
	switch {
	case errors.Is(err, elevation.ErrAttemptNotFound):
		return errors.Join(httpx.ErrNotFound, err)
	case errors.Is(err, elevation.ErrUnknownFactor):
		return errors.Join(httpx.ErrBadRequest, err)
	case errors.Is(err, elevation.ErrFinished), errors.Is(err, elevation.ErrWrongState),
		errors.Is(err, elevation.ErrBusy), errors.Is(err, elevation.ErrSuperseded):
		return errors.Join(httpx.ErrConflict, err)
	}
	return err
}
