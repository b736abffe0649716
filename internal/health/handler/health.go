package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"schoolhub/backend/internal/platform/httpx"
)

// checkTimeout bounds one dependency check.
const checkTimeout = 2 * time.Second

// Pinger checks connectivity to a dependency (database, Redis).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// PolicyChecker verifies that the policy engine can evaluate.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server reports readiness over grpc.health.v1 and plain HTTP. Nil dependencies are skipped.
type Server struct {
	pingers map[string]Pinger
	policy  PolicyChecker
	grpc    *health.Server
	logger  *zap.Logger
}

// NewServer returns a health server. pingers is keyed by dependency name (e.g. "postgres").
func NewServer(pingers map[string]Pinger, policy PolicyChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pingers: pingers, policy: policy, grpc: health.NewServer(), logger: logger}
}

// GRPC returns the grpc.health.v1 implementation to register on a grpc.Server.
func (s *Server) GRPC() *health.Server { return s.grpc }

// Check runs every dependency check and joins the failures.
func (s *Server) Check(ctx context.Context) error {
	var errs []error
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := p.PingContext(cctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		cancel()
	}
	if s.policy != nil {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := s.policy.HealthCheck(cctx); err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// Refresh runs Check and publishes the result as the overall gRPC serving status.
func (s *Server) Refresh(ctx context.Context) error {
	err := s.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("readiness check failed", zap.Error(err))
	}
	s.grpc.SetServingStatus("", st)
	return err
}

// Run refreshes readiness every interval until ctx is done, then marks the service not serving.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	_ = s.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.grpc.Shutdown()
			return
		case <-t.C:
			_ = s.Refresh(ctx)
		}
	}
}

// Live answers liveness probes. It does not touch dependencies.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers readiness probes with 503 when any dependency check fails.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	if err := s.Check(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
