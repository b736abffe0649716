package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"schoolhub/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before shutting down OTel providers,
// so in-flight async telemetry emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine does not inherit request cancellation.
func EmitAsync(emitter EventEmitter, event *domain.Event, logger *zap.Logger) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil && logger != nil {
			logger.Warn("telemetry: async emit failed", zap.String("event_type", event.EventType), zap.Error(err))
		}
	}()
}
