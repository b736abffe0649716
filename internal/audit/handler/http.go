package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auditrepo "schoolhub/backend/internal/audit/repository"
	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/server/interceptors"
	userdomain "schoolhub/backend/internal/user/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Handler serves the audit trail. Users read their own entries; admins may read any user's.
type Handler struct {
	repo   auditrepo.Repository
	logger *zap.Logger
}

// NewHandler returns an audit Handler.
func NewHandler(repo auditrepo.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// RegisterRoutes mounts /audit.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit", h.List)
}

type entryView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns entries newest first, paged by limit and offset.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	q := r.URL.Query()
	userID := id.UserID
	if other := q.Get("user_id"); other != "" && other != id.UserID {
		if id.Role != userdomain.RoleAdmin {
			httpx.Error(w, h.logger, httpx.ErrForbidden)
			return
		}
		userID = other
	}
	limit, err := intParam(q.Get("limit"), defaultLimit)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	entries, err := h.repo.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{ID: e.ID, UserID: e.UserID, Action: e.Action, Resource: e.Resource, IP: e.IP, Metadata: e.Metadata, CreatedAt: e.CreatedAt})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out, "limit": limit, "offset": offset})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.Join(httpx.ErrBadRequest, errors.New("limit and offset must be non-negative integers"))
	}
	return n, nil
}
