package server

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"schoolhub/backend/internal/audit"
	"schoolhub/backend/internal/elevation"
	"schoolhub/backend/internal/telemetry"
	telemetrydomain "schoolhub/backend/internal/telemetry/domain"
)

const eventSource = "elevation"

// NewElevationObserver returns the Manager observer. State changes become telemetry events;
// finished attempts are also written to the audit log. emitter and auditor may be nil.
func NewElevationObserver(emitter telemetry.EventEmitter, auditor audit.AuditLogger, logger *zap.Logger) func(userID, sessionID string, ev elevation.Event) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(userID, sessionID string, ev elevation.Event) {
		if ev.State == ev.Previous {
			return
		}
		telemetry.EmitAsync(emitter, telemetry.NewEvent(telemetrydomain.TypeElevationTransition, eventSource, userID, sessionID, ev), logger)
		if !ev.State.Terminal() || auditor == nil {
			return
		}
		kv := []string{
			"attempt_id", ev.AttemptID,
			"session_id", sessionID,
			"outcome", string(ev.Outcome),
			"attempts", strconv.Itoa(ev.Attempts),
		}
		if ev.FactorKind != "" {
			kv = append(kv, "factor_kind", string(ev.FactorKind))
		}
		if ev.Error != nil {
			kv = append(kv, "error_category", string(ev.Error.Category))
		}
		auditor.LogEvent(context.Background(), userID, "elevation_"+string(ev.Outcome), "session", audit.Metadata(kv...))
	}
}
