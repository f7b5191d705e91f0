package emit

import (
	"context"
	"log/slog"

	"sentrygate/internal/model"
)

// Emitter receives structured records produced by the monitoring engines.
// Implementations must not block indefinitely; slow consumers drop records
// rather than stall a monitoring loop.
type Emitter interface {
	Emit(ctx context.Context, rec model.Record)
}

// Multi fans one record out to several emitters in order.
type Multi []Emitter

// NewMulti combines emitters into a single fan-out emitter.
func NewMulti(emitters ...Emitter) Multi {
	return Multi(emitters)
}

// Emit forwards the record to every emitter.
func (m Multi) Emit(ctx context.Context, rec model.Record) {
	for _, e := range m {
		e.Emit(ctx, rec)
	}
}

// LogEmitter writes every record to the structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a logging sink.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs the record with its type-specific fields.
func (l *LogEmitter) Emit(ctx context.Context, rec model.Record) {
	switch r := rec.(type) {
	case model.AccessEvent:
		l.logger.Info("access event",
			"event_type", r.EventType,
			"user_id", r.UserID,
			"user_name", r.UserName,
			"reason", r.Reason,
			"door_unlocked", r.DoorUnlocked,
			"detail", r.Detail)
	case model.Finding:
		l.logger.Warn("security finding",
			"finding_id", r.ID,
			"event_type", r.EventType,
			"severity", r.Severity,
			"user_id", r.UserID,
			"detail", r.Detail)
	default:
		l.logger.Info("monitoring record", "event_type", rec.Kind())
	}
}
