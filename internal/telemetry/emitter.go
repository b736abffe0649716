// Package telemetry emits service events to OpenTelemetry logs and Kafka.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"schoolhub/backend/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Fanout emits to every non-nil emitter and joins their errors.
type Fanout []EventEmitter

func (f Fanout) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, em := range f {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEvent builds an event with a fresh id and metadata marshalled from payload.
// A payload that does not marshal is dropped.
func NewEvent(eventType, source, userID, sessionID string, payload any) *domain.Event {
	ev := &domain.Event{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Metadata = b
		}
	}
	return ev
}
