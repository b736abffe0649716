package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"schoolhub/backend/internal/audit"
	audithandler "schoolhub/backend/internal/audit/handler"
	devicehandler "schoolhub/backend/internal/device/handler"
	devotphandler "schoolhub/backend/internal/devotp/handler"
	elevationhandler "schoolhub/backend/internal/elevation/handler"
	"schoolhub/backend/internal/gate"
	healthhandler "schoolhub/backend/internal/health/handler"
	identityhandler "schoolhub/backend/internal/identity/handler"
	mfahandler "schoolhub/backend/internal/mfa/handler"
	"schoolhub/backend/internal/platform/httpx"
	policyhandler "schoolhub/backend/internal/policy/handler"
	"schoolhub/backend/internal/server/interceptors"
)

// DefaultRequestTimeout bounds every API request except event streams.
const DefaultRequestTimeout = 60 * time.Second

// Routes holds the handlers mounted by NewRouter. DevOTP and AuditLog may be nil.
type Routes struct {
	Health    *healthhandler.Server
	Identity  *identityhandler.Handler
	MFA       *mfahandler.Handler
	Elevation *elevationhandler.Handler
	Devices   *devicehandler.Handler
	Policies  *policyhandler.Handler
	AuditLog  *audithandler.Handler
	DevOTP    *devotphandler.Handler
}

// RouterConfig holds the middleware collaborators.
type RouterConfig struct {
	Tokens         interceptors.TokenValidator
	Sessions       interceptors.SessionSource
	Audit          audit.AuditLogger
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter builds the JSON API. Everything under /v1 except login requires a bearer token.
func NewRouter(routes Routes, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(interceptors.ClientAddr)
	r.Use(interceptors.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", identityhandler.HeaderDeviceFingerprint, gate.HeaderElevationCode, gate.HeaderElevationCancel},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if routes.Health != nil {
		r.Get("/healthz", routes.Health.Live)
		r.Get("/readyz", routes.Health.Ready)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			if routes.Identity != nil {
				routes.Identity.RegisterPublicRoutes(r)
			}
			if routes.DevOTP != nil {
				routes.DevOTP.RegisterRoutes(r)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(interceptors.Auth(cfg.Tokens, cfg.Sessions, logger))
			if cfg.Audit != nil {
				r.Use(interceptors.Audit(cfg.Audit))
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(timeout))
				if routes.Identity != nil {
					routes.Identity.RegisterRoutes(r)
				}
				if routes.MFA != nil {
					routes.MFA.RegisterRoutes(r)
				}
				if routes.Elevation != nil {
					routes.Elevation.RegisterRoutes(r)
				}
				if routes.Devices != nil {
					routes.Devices.RegisterRoutes(r)
				}
				if routes.Policies != nil {
					routes.Policies.RegisterRoutes(r)
				}
				if routes.AuditLog != nil {
					routes.AuditLog.RegisterRoutes(r)
				}
			})

			if routes.Elevation != nil {
				routes.Elevation.RegisterStreamRoutes(r)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusNotFound, httpx.ErrorBody{Code: "not_found", Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusMethodNotAllowed, httpx.ErrorBody{Code: "method_not_allowed", Message: "method not allowed"})
	})

	return otelhttp.NewHandler(r, "schoolhub-api")
}
