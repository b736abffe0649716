package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"schoolhub/backend/internal/audit"
	audithandler "schoolhub/backend/internal/audit/handler"
	auditrepo "schoolhub/backend/internal/audit/repository"
	"schoolhub/backend/internal/config"
	"schoolhub/backend/internal/db"
	devicehandler "schoolhub/backend/internal/device/handler"
	devicerepo "schoolhub/backend/internal/device/repository"
	deviceservice "schoolhub/backend/internal/device/service"
	"schoolhub/backend/internal/devotp"
	devotphandler "schoolhub/backend/internal/devotp/handler"
	"schoolhub/backend/internal/elevation"
	elevationhandler "schoolhub/backend/internal/elevation/handler"
	"schoolhub/backend/internal/gate"
	healthhandler "schoolhub/backend/internal/health/handler"
	identityhandler "schoolhub/backend/internal/identity/handler"
	identityrepo "schoolhub/backend/internal/identity/repository"
	identityservice "schoolhub/backend/internal/identity/service"
	"schoolhub/backend/internal/lock"
	"schoolhub/backend/internal/mfa/coordinator"
	mfahandler "schoolhub/backend/internal/mfa/handler"
	"schoolhub/backend/internal/mfa/registry"
	mfarepo "schoolhub/backend/internal/mfa/repository"
	"schoolhub/backend/internal/mfa/sms"
	"schoolhub/backend/internal/policy/engine"
	policyhandler "schoolhub/backend/internal/policy/handler"
	policyrepo "schoolhub/backend/internal/policy/repository"
	"schoolhub/backend/internal/ratelimit"
	"schoolhub/backend/internal/security"
	"schoolhub/backend/internal/seed"
	"schoolhub/backend/internal/server/interceptors"
	sessionrepo "schoolhub/backend/internal/session/repository"
	"schoolhub/backend/internal/telemetry"
	userrepo "schoolhub/backend/internal/user/repository"
)

const (
	healthInterval   = 15 * time.Second
	devOTPSweepEvery = time.Minute
)

// App is the assembled service: HTTP API, gRPC health server and the background loops they need.
type App struct {
	HTTP       http.Handler
	GRPC       *grpc.Server
	Health     *healthhandler.Server
	Elevations *elevation.Manager
	Provider   *identityservice.Provider

	devOTP  *devotp.MemoryStore
	logger  *zap.Logger
	closers []func() error
}

type userStore interface {
	userrepo.Repository
	userrepo.ContactRepository
}

type stores struct {
	users      userStore
	identities identityrepo.Repository
	sessions   sessionrepo.Repository
	factors    identityservice.FactorRepo
	challenges identityservice.ChallengeRepo
	devices    devicerepo.Repository
	policies   policyrepo.Repository
	audit      auditrepo.Repository
}

// NewApp wires every component from cfg. An empty DATABASE_URL runs on in-memory repositories
// seeded with the demo accounts; an empty REDIS_URL disables rate limits and uses an in-process
// contact lock. emitter may be nil.
func NewApp(ctx context.Context, cfg *config.Config, emitter telemetry.EventEmitter, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	pingers := map[string]healthhandler.Pinger{}

	var st stores
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		app.closers = append(app.closers, conn.Close)
		pingers["postgres"] = conn
		st = postgresStores(conn)
	} else {
		logger.Warn("DATABASE_URL is empty; using in-memory repositories")
		st = memoryStores()
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	if cfg.DatabaseURL == "" {
		n, err := seed.Demo(ctx, seed.Stores{Users: st.users, Contacts: st.users, Identities: st.identities}, hasher)
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		logger.Info("seeded demo accounts", zap.Int("created", n))
	}

	var limiter identityservice.Limiter
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		app.closers = append(app.closers, rdb.Close)
		pingers["redis"] = healthhandler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		limiter = ratelimit.New(rdb, "schoolhub:rl")
		locker = lock.NewRedisLocker(rdb)
	} else {
		logger.Warn("REDIS_URL is empty; challenge rate limits are disabled")
	}

	tokens, err := security.NewTokenProviderFromConfig(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}

	var sender sms.Sender
	var otpStore devotp.Store
	if cfg.DevOTP() {
		app.devOTP = devotp.NewMemoryStore()
		otpStore = app.devOTP
		logger.Warn("dev OTP mode is on; SMS codes are readable at /v1/dev/mfa/otp")
	} else if cfg.SMSLocalAPIKey != "" {
		sender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	} else {
		logger.Warn("SMS_LOCAL_API_KEY is empty; phone challenges will fail")
	}

	provider := identityservice.NewProvider(identityservice.Deps{
		Users:      st.users,
		Contacts:   st.users,
		Identities: st.identities,
		Sessions:   st.sessions,
		Factors:    st.factors,
		Challenges: st.challenges,
		Hasher:     hasher,
		Tokens:     tokens,
		SMS:        sender,
		DevOTP:     otpStore,
		Limiter:    limiter,
		Locker:     locker,
		Logger:     logger.Named("identity"),
	}, identityservice.Config{
		SessionTTL:    cfg.SessionTTL,
		ChallengeTTL:  cfg.ChallengeStaleAfter,
		TOTPIssuer:    cfg.TOTPIssuer,
		ChallengeRule: ratelimit.Rule{Max: cfg.SMSMaxPerWindow, Window: cfg.SMSWindow},
		VerifyRule:    ratelimit.Rule{Max: cfg.MaxVerifyAttempts, Window: cfg.ChallengeStaleAfter},
	})
	app.Provider = provider

	auditor := audit.NewLogger(st.audit, interceptors.ClientIP, logger.Named("audit"))
	evaluator := engine.NewOPAEvaluator(st.policies, cfg.DefaultTrustTTLDays, logger.Named("policy"))
	trust := deviceservice.NewTrustCache(st.devices, logger.Named("device"))
	coord := coordinator.New(provider, coordinator.Config{
		RequestTimeout: cfg.RequestTimeout,
		WarnAfter:      cfg.ChallengeWarnAfter,
		StaleAfter:     cfg.ChallengeStaleAfter,
	}, logger.Named("coordinator"))
	reg := registry.New(provider, cfg.PhoneDefaultCountryCode, logger.Named("registry"))

	app.Elevations = elevation.NewManager(elevation.Deps{
		Factors:    reg,
		Challenges: coord,
		Sessions:   provider,
		Trust:      trust,
		Logger:     logger.Named("elevation"),
	}, evaluator, elevation.ManagerConfig{
		MaxAttempts:  cfg.MaxVerifyAttempts,
		WarnAfter:    cfg.ChallengeWarnAfter,
		ConfirmTries: cfg.ConfirmMaxTries,
	}, NewElevationObserver(emitter, auditor, logger))

	guard := gate.New(gate.Deps{
		Policy:     evaluator,
		Sessions:   provider,
		Factors:    reg,
		Challenges: coord,
		Trust:      trust,
		Audit:      auditor,
		Logger:     logger.Named("gate"),
	}, gate.Config{ConfirmTries: cfg.ConfirmMaxTries})

	app.Health = healthhandler.NewServer(pingers, evaluator, logger.Named("health"))
	app.GRPC = NewGRPCServer(app.Health, logger.Named("grpc"))

	routes := Routes{
		Health:    app.Health,
		Identity:  identityhandler.NewHandler(provider, logger),
		MFA:       mfahandler.NewHandler(reg, guard, provider, cfg.PhoneDefaultCountryCode, logger),
		Elevation: elevationhandler.NewHandler(app.Elevations, logger),
		Devices:   devicehandler.NewHandler(trust, guard, logger),
		Policies:  policyhandler.NewHandler(st.policies, evaluator, guard, logger),
		AuditLog:  audithandler.NewHandler(st.audit, logger),
	}
	if app.devOTP != nil {
		routes.DevOTP = devotphandler.NewHandler(app.devOTP, logger)
	}
	app.HTTP = NewRouter(routes, RouterConfig{
		Tokens:      tokens,
		Sessions:    provider,
		Audit:       auditor,
		CORSOrigins: cfg.CORSOriginList(),
		Logger:      logger.Named("http"),
	})

	ok = true
	return app, nil
}

// Run starts the background loops and blocks until ctx is done.
func (a *App) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() {
		a.Elevations.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		a.Health.Run(ctx, healthInterval)
		done <- struct{}{}
	}()
	if a.devOTP != nil {
		t := time.NewTicker(devOTPSweepEvery)
		defer t.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-t.C:
				if n := a.devOTP.Sweep(); n > 0 {
					a.logger.Debug("swept expired dev OTPs", zap.Int("count", n))
				}
			}
		}
	} else {
		<-ctx.Done()
	}
	<-done
	<-done
}

// Close releases the database pool and Redis client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func postgresStores(conn *sql.DB) stores {
	return stores{
		users:      userrepo.NewPostgresRepository(conn),
		identities: identityrepo.NewPostgresRepository(conn),
		sessions:   sessionrepo.NewPostgresRepository(conn),
		factors:    mfarepo.NewPostgresFactorRepository(conn),
		challenges: mfarepo.NewPostgresChallengeRepository(conn),
		devices:    devicerepo.NewPostgresRepository(conn),
		policies:   policyrepo.NewPostgresRepository(conn),
		audit:      auditrepo.NewPostgresRepository(conn),
	}
}

func memoryStores() stores {
	return stores{
		users:      userrepo.NewMemoryRepository(),
		identities: identityrepo.NewMemoryRepository(),
		sessions:   sessionrepo.NewMemoryRepository(),
		factors:    mfarepo.NewMemoryFactorRepository(),
		challenges: mfarepo.NewMemoryChallengeRepository(),
		devices:    devicerepo.NewMemoryRepository(),
		policies:   policyrepo.NewMemoryRepository(),
		audit:      auditrepo.NewMemoryRepository(),
	}
}
