// Package audit records terminal coordinator states.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event is one terminal state reached for an object.
type Event struct {
	ProcessingKey string
	ObjectKey     string
	State         string
	Detail        string
	RecordedAt    time.Time
}

// LogRecorder writes events to the structured log. It is used when no
// ClickHouse sink is configured.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, e Event) error {
	slog.InfoContext(ctx, "file event",
		"processing_key", e.ProcessingKey,
		"object_key", e.ObjectKey,
		"state", e.State,
		"detail", e.Detail,
		"recorded_at", e.RecordedAt,
	)
	return nil
}
