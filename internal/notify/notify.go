// Package notify delivers user-facing terminal events. Delivery is
// fire-and-forget: a sink failure is logged and never affects the job.
package notify

import (
	"context"
	"time"

	"docbrief-backend/internal/shared/telemetry"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Event is one user-facing notification.
type Event struct {
	JobID      string    `json:"jobId"`
	Identity   string    `json:"identity,omitempty"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Sink delivers events.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink writes events to the structured log. It is the default sink in dev.
type LogSink struct{}

// Notify logs the event.
func (LogSink) Notify(ctx context.Context, event Event) {
	_ = ctx
	telemetry.Info("job.notification", map[string]any{
		"job_id":   event.JobID,
		"identity": event.Identity,
		"outcome":  event.Outcome,
		"message":  event.Message,
	})
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Notify delivers to every sink in order.
func (m MultiSink) Notify(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Notify(ctx, event)
	}
}
