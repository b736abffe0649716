package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"schoolhub/backend/internal/telemetry/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { w.closed = true; return nil }

func TestNewKafkaProducer_Disabled(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("no brokers should disable the producer")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("empty topic should disable the producer")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Event{}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestKafkaProducer_Emit(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaProducer{writer: w, topic: "t"}
	ev := &domain.Event{ID: "e1", SessionID: "s1", EventType: domain.TypeElevationTransition, Source: "elevation"}
	if err := p.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "s1" {
		t.Errorf("key = %q, want s1", msg.Key)
	}
	var got domain.Event
	if err := json.Unmarshal(msg.Value, &got); err != nil || got.ID != "e1" || got.EventType != ev.EventType {
		t.Errorf("value = %s (%v)", msg.Value, err)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != domain.TypeElevationTransition {
		t.Errorf("headers = %v", msg.Headers)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v closed=%v", err, w.closed)
	}
}
