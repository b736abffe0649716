package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the service.
const (
	TypeElevationTransition = "elevation.transition"
	TypeGuard               = "gate.guard"
)

// Event is one telemetry record. It is written to OTel logs and, when configured, to Kafka as JSON.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
