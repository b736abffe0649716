// Worker consumes telemetry events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"schoolhub/backend/internal/config"
	"schoolhub/backend/internal/logging"
	"schoolhub/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
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

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		return errors.New("LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()
	client := loki.NewClient(cfg.LokiURL, "schoolhub-telemetry", nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming telemetry",
		zap.String("topic", cfg.TelemetryKafkaTopic), zap.String("group", cfg.KafkaGroupID), zap.String("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("stopped")
				return nil
			}
			logger.Warn("kafka read failed", zap.Error(err))
			continue
		}
		if err := push(ctx, client, msg.Value); err != nil && ctx.Err() == nil {
			logger.Warn("loki push failed; dropping event",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// push retries a Loki push with exponential backoff for up to three attempts.
func push(ctx context.Context, client *loki.Client, raw []byte) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()
		return struct{}{}, client.PushEventJSON(pushCtx, raw)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	return err
}
