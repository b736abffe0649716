package rbac

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"schoolhub/backend/internal/platform/httpx"
	"schoolhub/backend/internal/server/interceptors"
	userdomain "schoolhub/backend/internal/user/domain"
)

// RequireRole ensures the caller is authenticated and holds one of roles.
// Returns the caller identity on success; httpx.ErrUnauthenticated or httpx.ErrForbidden otherwise.
func RequireRole(ctx context.Context, roles ...userdomain.Role) (interceptors.Identity, error) {
	id, ok := interceptors.IdentityFrom(ctx)
	if !ok {
		return interceptors.Identity{}, httpx.ErrUnauthenticated
	}
	for _, r := range roles {
		if id.Role == r {
			return id, nil
		}
	}
	return interceptors.Identity{}, httpx.ErrForbidden
}

// Middleware rejects requests whose caller does not hold one of roles.
func Middleware(logger *zap.Logger, roles ...userdomain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := RequireRole(r.Context(), roles...); err != nil {
				httpx.Error(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
