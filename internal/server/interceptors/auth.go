package interceptors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"schoolhub/backend/internal/platform/httpx"
	sessiondomain "schoolhub/backend/internal/session/domain"
	userdomain "schoolhub/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// TokenValidator checks an access token and returns the session and user it was issued for.
type TokenValidator interface {
	Validate(token string) (sessionID, userID string, err error)
}

// SessionSource resolves the live session and user behind a token.
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	User(ctx context.Context, userID string) (*userdomain.User, error)
}

var errInactive = errors.New("session inactive or user disabled")

// Auth returns middleware that requires a valid Bearer access token backed by an active session and
// an active user. The resolved Identity is stored in the request context.
func Auth(tokens TokenValidator, sessions SessionSource, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r, tokens, sessions)
			if errors.Is(err, errInactive) {
				err = errors.Join(httpx.ErrUnauthenticated, err)
			}
			if err != nil {
				httpx.Error(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func authenticate(r *http.Request, tokens TokenValidator, sessions SessionSource) (Identity, error) {
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return Identity{}, httpx.ErrUnauthenticated
	}
	sessionID, userID, err := tokens.Validate(token)
	if err != nil {
		return Identity{}, errors.Join(httpx.ErrUnauthenticated, err)
	}
	sess, err := sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		return Identity{}, err
	}
	if sess == nil || sess.UserID != userID {
		return Identity{}, errInactive
	}
	u, err := sessions.User(r.Context(), userID)
	if err != nil {
		return Identity{}, err
	}
	if u == nil || u.Status == userdomain.UserStatusDisabled {
		return Identity{}, errInactive
	}
	return Identity{UserID: userID, SessionID: sessionID, DeviceID: sess.DeviceID, Role: u.Role}, nil
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
