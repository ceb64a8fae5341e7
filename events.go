package sagaorch

import (
	"context"
	"time"
)

// EventType names a saga lifecycle event.
type EventType string

const (
	EventSagaStatus             EventType = "saga.status"
	EventStepCompleted          EventType = "step.completed"
	EventStepFailed             EventType = "step.failed"
	EventStepCompensated        EventType = "step.compensated"
	EventStepCompensationFailed EventType = "step.compensation_failed"
)

// Event describes one accepted change to a saga instance. Status is set on
// saga.status events, Step on step events.
type Event struct {
	Type          EventType `json:"type"`
	TransactionID string    `json:"transaction_id"`
	SagaType      string    `json:"saga_type"`
	BusinessID    string    `json:"business_id,omitempty"`
	Status        Status    `json:"status,omitempty"`
	Step          string    `json:"step,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publishing is best-effort: an error is
// logged by the orchestrator and never changes the outcome of a saga.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }

// SinkFunc adapts an ordinary function to EventSink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
