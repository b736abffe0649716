package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"schoolhub/backend/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &domain.Event{EventType: "x"}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if err := NewEventEmitter(provider).Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	calls int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.calls++
}

func attributes(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	event := &domain.Event{
		ID:        "e1",
		UserID:    "u1",
		SessionID: "s1",
		DeviceID:  "d1",
		EventType: domain.TypeElevationTransition,
		Source:    "elevation",
		Metadata:  []byte(`{"to":"verify"}`),
		CreatedAt: created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if got := string(rec.Body().AsBytes()); got != `{"to":"verify"}` {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	want := map[string]string{
		"event_id": "e1", "user_id": "u1", "session_id": "s1", "device_id": "d1",
		"event_type": domain.TypeElevationTransition, "source": "elevation",
	}
	got := attributes(rec)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestEmit_PartialFields(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.Event{EventType: domain.TypeGuard}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if !rec.Body().Empty() {
		t.Error("body should be empty without metadata")
	}
	if rec.Timestamp().Before(before) {
		t.Errorf("timestamp = %v, want now", rec.Timestamp())
	}
	attrs := attributes(rec)
	if len(attrs) != 1 || attrs["event_type"] != domain.TypeGuard {
		t.Errorf("attributes = %v, want only event_type", attrs)
	}
}
