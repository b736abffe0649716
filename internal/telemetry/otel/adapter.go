package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"schoolhub/backend/internal/telemetry"
	"schoolhub/backend/internal/telemetry/domain"
)

// recordEmitter is the subset of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("schoolhub.telemetry")}
}

// NewEventEmitterWithLogger wraps an existing OTel logger.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record: metadata becomes the body, identifiers become attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	if len(event.Metadata) > 0 {
		rec.SetBody(otellog.BytesValue(event.Metadata))
	}
	for _, kv := range []struct{ key, value string }{
		{"event_id", event.ID},
		{"user_id", event.UserID},
		{"session_id", event.SessionID},
		{"device_id", event.DeviceID},
		{"event_type", event.EventType},
		{"source", event.Source},
	} {
		if kv.value != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.value))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
