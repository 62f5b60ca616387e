/*
Package notify delivers lifecycle events to an external notification sink.

PURPOSE:
  The engine emits events (reservation confirmed/cancelled, statement
  generated) for collaborators that send emails or push messages. Delivery
  is best-effort and has no bearing on the correctness of scheduling or
  billing: publish errors are logged and swallowed by callers.

IMPLEMENTATIONS:
  - NopSink:  discard (default, tests)
  - AMQPSink: RabbitMQ queues, one per event type (amqp.go)
*/
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	ReservationConfirmed EventType = "reservation.confirmed"
	ReservationCancelled EventType = "reservation.cancelled"
	ReservationMissed    EventType = "reservation.missed"
	StatementGenerated   EventType = "statement.generated"
)

// Event is one lifecycle notification.
type Event struct {
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func NewEvent(t EventType, fields map[string]string) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Fields: fields}
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
