package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"schoolhub/backend/internal/identity/service"
	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/server/interceptors"
	sessiondomain "schoolhub/backend/internal/session/domain"
	userdomain "schoolhub/backend/internal/user/domain"
)

// HeaderDeviceFingerprint carries the client device fingerprint at login.
const HeaderDeviceFingerprint = "X-Device-Fingerprint"

// AuthProvider is the part of the identity provider the auth endpoints use.
type AuthProvider interface {
	Authenticate(ctx context.Context, email, password, deviceID string) (*service.AuthResult, error)
	Logout(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	User(ctx context.Context, userID string) (*userdomain.User, error)
}

// Handler serves login, logout and the current session.
type Handler struct {
	provider AuthProvider
	logger   *zap.Logger
}

// NewHandler returns an auth Handler.
func NewHandler(provider AuthProvider, logger *zap.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

// RegisterPublicRoutes mounts routes that need no access token.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// RegisterRoutes mounts routes that run behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/session", h.Session)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

type userView struct {
	ID    string          `json:"id"`
	Email string          `json:"email"`
	Name  string          `json:"name"`
	Role  userdomain.Role `json:"role"`
}

type sessionView struct {
	ID        string                  `json:"id"`
	Assurance sessiondomain.Assurance `json:"assurance"`
	Methods   []string                `json:"methods"`
	ExpiresAt time.Time               `json:"expires_at"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        userView    `json:"user"`
	Session     sessionView `json:"session"`
}

// Login authenticates email and password and opens a base-assurance session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get(HeaderDeviceFingerprint)
	}
	res, err := h.provider.Authenticate(r.Context(), req.Email, req.Password, req.DeviceID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		User:        toUserView(res.User),
		Session:     toSessionView(res.Session),
	})
}

// Logout revokes the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	if err := h.provider.Logout(r.Context(), id.SessionID); err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session returns the caller's user and a fresh read of their session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id, ok := interceptors.IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	sess, err := h.provider.GetSession(r.Context(), id.SessionID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if sess == nil {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	u, err := h.provider.User(r.Context(), id.UserID)
	if err != nil {
		httpx.Error(w, h.logger, err)
		return
	}
	if u == nil {
		httpx.Error(w, h.logger, httpx.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":    toUserView(u),
		"session": toSessionView(sess),
	})
}

func toUserView(u *userdomain.User) userView {
	if u == nil {
		return userView{}
	}
	return userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

func toSessionView(s *sessiondomain.Session) sessionView {
	if s == nil {
		return sessionView{}
	}
	v := sessionView{ID: s.ID, Assurance: s.Assurance, ExpiresAt: s.ExpiresAt, Methods: make([]string, 0, len(s.Methods))}
	for _, m := range s.Methods {
		v.Methods = append(v.Methods, m.Method)
	}
	return v
}
