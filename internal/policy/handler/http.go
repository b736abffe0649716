package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolhub/backend/internal/gate"
	mfadomain "schoolhub/backend/internal/mfa/domain"
	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/platform/rbac"
	"schoolhub/backend/internal/policy/domain"
	"schoolhub/backend/internal/policy/engine"
	"schoolhub/backend/internal/policy/repository"
	userdomain "schoolhub/backend/internal/user/domain"
)

// Handler serves the school admin policy routes. Every route requires the admin role; writes are
// additionally guarded by a fresh elevation.
type Handler struct {
	repo      repository.Repository
	evaluator engine.Evaluator
	gate      gate.Guarder
	logger    *zap.Logger
	nowF      func() time.Time
}

// NewHandler returns a policy Handler.
func NewHandler(repo repository.Repository, evaluator engine.Evaluator, g gate.Guarder, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, evaluator: evaluator, gate: g, logger: logger, nowF: time.Now}
}

// RegisterRoutes mounts /admin/policies.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/policies", func(r chi.Router) {
		r.Use(rbac.Middleware(h.logger, userdomain.RoleAdmin))
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Post("/evaluate", h.Evaluate)
	})
}

type policyView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rules     string    `json:"rules"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toView(p *domain.Policy) policyView {
	return policyView{ID: p.ID, Name: p.Name, Rules: p.Rules, Enabled: p.Enabled, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

// List returns every stored policy, enabled or not.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.repo.List(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	out := make([]policyView, 0, len(policies))
	for _, p := range policies {
		out = append(out, toView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string][]policyView{"policies": out})
}

type writeRequest struct {
	Name    string `json:"name"`
	Rules   string `json:"rules"`
	Enabled bool   `json:"enabled"`
}

func (req writeRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.Join(httpx.ErrBadRequest, errors.New("name is required"))
	}
	if err := engine.Validate(req.Rules); err != nil {
		return errors.Join(httpx.ErrBadRequest, err)
	}
	return nil
}

// Create stores a new policy after compiling it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	now := h.nowF().UTC()
	p := &domain.Policy{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name), Rules: req.Rules, Enabled: req.Enabled, CreatedAt: now, UpdatedAt: now}
	ok := gate.Serve(w, r, h.gate, h.logger, domain.ActionPolicyWrite, func(ctx context.Context) error {
		return h.repo.Create(ctx, p)
	})
	if ok {
		httpx.JSON(w, http.StatusCreated, toView(p))
	}
}

// Update replaces a policy's name, rules and enabled flag.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	p, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if p == nil {
		httpx.Error(w, h.logger, httpx.ErrNotFound)
		return
	}
	p.Name, p.Rules, p.Enabled, p.UpdatedAt = strings.TrimSpace(req.Name), req.Rules, req.Enabled, h.nowF().UTC()
	ok := gate.Serve(w, r, h.gate, h.logger, domain.ActionPolicyWrite, func(ctx context.Context) error {
		return h.repo.Update(ctx, p)
	})
	if ok {
		httpx.JSON(w, http.StatusOK, toView(p))
	}
}

type evaluateRequest struct {
	Role     string `json:"role"`
	Action   string `json:"action"`
	HasPhone bool   `json:"has_phone"`
}

type decisionView struct {
	ElevationRequired bool             `json:"elevation_required"`
	FactorOrder       []mfadomain.Kind `json:"factor_order"`
	RememberDevice    bool             `json:"remember_device"`
	TrustTTLDays      int              `json:"trust_ttl_days"`
}

// Evaluate runs the active policies against a sample input so admins can check a change.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if !userdomain.Role(req.Role).Valid() || req.Action == "" {
		httpx.Error(w, h.logger, errors.Join(httpx.ErrBadRequest, errors.New("role and action are required")))
		return
	}
	dec, err := h.evaluator.Evaluate(r.Context(), engine.Input{Role: req.Role, Action: req.Action, HasPhone: req.HasPhone})
	if err != nil {
		h.logger.Warn("policy evaluation degraded", zap.Error(err))
	}
	httpx.JSON(w, http.StatusOK, decisionView{
		ElevationRequired: dec.ElevationRequired,
		FactorOrder:       dec.FactorOrder,
		RememberDevice:    dec.RememberDevice,
		TrustTTLDays:      dec.TrustTTLDays,
	})
}
