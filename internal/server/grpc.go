package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthhandler "schoolhub/backend/internal/health/handler"
	"schoolhub/backend/internal/server/interceptors"
)

// NewGRPCServer returns the gRPC server that carries the standard health service. Calls are
// traced through otelgrpc and logged.
func NewGRPCServer(health *healthhandler.Server, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(logger)),
	)
	healthpb.RegisterHealthServer(s, health.GRPC())
	reflection.Register(s)
	return s
}
