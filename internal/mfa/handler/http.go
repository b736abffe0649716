// Package handler serves factor enrollment and the phone contact over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/gate"
	"schoolhub/backend/internal/identity/service"
	"schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/mfa/registry"
	"schoolhub/backend/internal/platform/httpx"
	policydomain "schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/server/interceptors"
	sessiondomain "schoolhub/backend/internal/session/domain"
	userdomain "schoolhub/backend/internal/user/domain"
)

// Registry manages the caller's factors.
type Registry interface {
	List(ctx context.Context, userID string) (*domain.FactorSet, error)
	Enroll(ctx context.Context, userID string, req registry.EnrollRequest) (*domain.Enrollment, error)
	StartConfirmation(ctx context.Context, sessionID, userID, factorID string) (*domain.Challenge, error)
	ConfirmEnrollment(ctx context.Context, req registry.ConfirmRequest) (*sessiondomain.Session, error)
	Unenroll(ctx context.Context, userID, factorID string) error
}

// ContactUpdater stores the user's contact values.
type ContactUpdater interface {
	UpdateSubjectContact(ctx context.Context, userID string, kind userdomain.ContactKind, value string) error
}

// Handler serves /factors and /contact routes.
type Handler struct {
	registry    Registry
	gate        gate.Guarder
	contacts    ContactUpdater
	countryCode string
	logger      *zap.Logger
}

// NewHandler returns a factor Handler. countryCode is used to normalize phone contacts.
func NewHandler(reg Registry, g gate.Guarder, contacts ContactUpdater, countryCode string, logger *zap.Logger) *Handler {
	return &Handler{registry: reg, gate: g, contacts: contacts, countryCode: countryCode, logger: logger}
}

// RegisterRoutes mounts the factor routes. Unenroll and the phone contact update are guarded.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/factors", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Enroll)
		r.Post("/{id}/challenge", h.StartConfirmation)
		r.Post("/{id}/confirm", h.Confirm)
		r.Delete("/{id}", h.Unenroll)
	})
	r.Put("/contact/phone", h.UpdatePhone)
}

type factorView struct {
	ID        string        `json:"id"`
	Kind      domain.Kind   `json:"kind"`
	Status    domain.Status `json:"status"`
	Label     string        `json:"label,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func toFactorViews(fs []*domain.Factor) []factorView {
	out := make([]factorView, 0, len(fs))
	for _, f := range fs {
		out = append(out, factorView{ID: f.ID, Kind: f.Kind, Status: f.Status, Label: f.Label, CreatedAt: f.CreatedAt})
	}
	return out
}

// List returns the caller's factors grouped as verified TOTP, verified phone and all.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	set, err := h.registry.List(r.Context(), id.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]factorView{
		"totp":  toFactorViews(set.TOTP),
		"phone": toFactorViews(set.Phone),
		"all":   toFactorViews(set.All),
	})
}

type enrollRequest struct {
	Kind  domain.Kind `json:"kind"`
	Phone string      `json:"phone,omitempty"`
	Label string      `json:"label,omitempty"`
}

type enrollResponse struct {
	FactorID string      `json:"factor_id"`
	Kind     domain.Kind `json:"kind"`
	Secret   string      `json:"secret,omitempty"`
	URI      string      `json:"uri,omitempty"`
	Image    string      `json:"image,omitempty"`
}

// Enroll creates a pending factor. TOTP responses carry the secret and QR image.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	var req enrollRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	enr, err := h.registry.Enroll(r.Context(), id.UserID, registry.EnrollRequest{SessionID: id.SessionID, Kind: req.Kind, Phone: req.Phone, Label: req.Label})
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, enrollResponse{
		FactorID: enr.FactorID,
		Kind:     enr.Kind,
		Secret:   enr.Secret,
		URI:      enr.URI,
		Image:    enr.Image,
	})
}

// StartConfirmation sends the enrollment code for a pending phone factor.
func (h *Handler) StartConfirmation(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	c, err := h.registry.StartConfirmation(r.Context(), id.SessionID, id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"challenge_id": c.ID, "expires_at": c.ExpiresAt})
}

type confirmRequest struct {
	ChallengeID string `json:"challenge_id,omitempty"`
	Code        string `json:"code"`
}

// Confirm verifies the code for a pending factor. The session keeps its assurance.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, _ := interceptors.IdentityFrom(r.Context())
	var req confirmRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	sess, err := h.registry.ConfirmEnrollment(r.Context(), registry.ConfirmRequest{
		SessionID:   id.SessionID,
		UserID:      id.UserID,
		FactorID:    chi.URLParam(r, "id"),
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
	})
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	var assurance sessiondomain.Assurance
	if sess != nil {
		assurance = sess.Assurance
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"factor_id": chi.URLParam(r, "id"), "status": domain.StatusVerified, "assurance": assurance})
}

// Unenroll removes a factor after the gate confirms a fresh elevation.
func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	factorID := chi.URLParam(r, "id")
	ok := gate.Serve(w, r, h.gate, h.logger, policydomain.ActionFactorUnenroll, func(ctx context.Context) error {
		id, _ := interceptors.IdentityFrom(ctx)
		return h.registry.Unenroll(ctx, id.UserID, factorID)
	})
	if ok {
		w.WriteHeader(http.StatusNoContent)
	}
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

// UpdatePhone replaces the caller's phone contact after the gate confirms a fresh elevation.
func (h *Handler) UpdatePhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	phone, err := registry.NormalizePhone(req.Phone, h.countryCode)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	ok := gate.Serve(w, r, h.gate, h.logger, policydomain.ActionContactUpdate, func(ctx context.Context) error {
		id, _ := interceptors.IdentityFrom(ctx)
		err := h.contacts.UpdateSubjectContact(ctx, id.UserID, userdomain.ContactPhone, phone)
		if errors.Is(err, service.ErrContactBusy) {
			return errors.Join(httpx.ErrConflict, err)
		}
		return err
	})
	if ok {
		httpx.JSON(w, http.StatusOK, map[string]string{"phone": phone})
	}
}
