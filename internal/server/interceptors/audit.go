package interceptors

import (
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schoolhub/backend/internal/audit"
)

// ClientAddr stores the request's remote host in the context for audit entries. Mount it after
// middleware.RealIP so proxy headers are already applied.
func ClientAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
	})
}

// Audit returns middleware that records one audit entry per state-changing request after the handler
// runs. Reads are not audited. The action and resource come from the matched chi route pattern.
func Audit(logger audit.AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return
			}
			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			ar := audit.ParseRoute(r.Method, pattern)
			userID, _ := GetUserID(r.Context())
			logger.LogEvent(r.Context(), userID, ar.Action, ar.Resource,
				audit.Metadata("status", strconv.Itoa(ww.Status()), "request_id", middleware.GetReqID(r.Context())))
		})
	}
}
