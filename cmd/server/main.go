package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schoolhub/backend/internal/config"
	"schoolhub/backend/internal/logging"
	"schoolhub/backend/internal/server"
	"schoolhub/backend/internal/telemetry"
	"schoolhub/backend/internal/telemetry/otel"
	"schoolhub/backend/internal/telemetry/producer"
)

const (
	serviceName     = "schoolhub-api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var emitters telemetry.Fanout
	var providers *otel.Providers
	if cfg.OTelEndpoint != "" {
		providers, err = otel.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		providers.SetGlobal()
		emitters = append(emitters, otel.NewEventEmitter(providers.LoggerProvider))
		logger.Info("otel export enabled", zap.String("endpoint", cfg.OTelEndpoint))
	}
	var sink producer.Producer
	if p := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); p != nil {
		sink = p
		emitters = append(emitters, sink)
		logger.Info("kafka telemetry enabled", zap.Strings("brokers", cfg.TelemetryKafkaBrokersList()), zap.String("topic", cfg.TelemetryKafkaTopic))
	}
	var emitter telemetry.EventEmitter
	if len(emitters) > 0 {
		emitter = emitters
	}

	app, err := server.NewApp(ctx, cfg, emitter, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close app", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.HTTP,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
		if err := app.GRPC.Serve(lis); err != nil {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("http api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		app.GRPC.GracefulStop()
		return nil
	})
	runErr := g.Wait()
	if runErr != nil {
		logger.Error("server failed", zap.Error(runErr))
	}

	if emitter != nil {
		// let in-flight async emits finish before the exporters close
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Warn("kafka close", zap.Error(err))
		}
	}
	if providers != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}
	logger.Info("stopped")
	return runErr
}
