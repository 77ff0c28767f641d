// Package notify carries the cross-view "cancellation resolved" event from
// the owner desk to whoever else shows the order: cashier dashboards over the
// WebSocket hub, other processes over Redis pub/sub.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event says an owner resolved a cancel request. Type is one of
// enum.EventOrderCancellationApproved or enum.EventOrderCancellationRejected.
type Event struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	RequestID  string    `json:"request_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// payload is the body dashboards receive. The event type travels alongside.
type payload struct {
	OrderID   string `json:"order_id"`
	RequestID string `json:"request_id"`
}

// Notifier delivers an event best-effort. Callers log a returned error and
// move on; nothing is retried.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }

// Fanout delivers to every notifier in order. A failing sink is logged and
// never stops the others, and Fanout itself always returns nil.
type Fanout struct {
	sinks []Notifier
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Notifier) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{sinks: sinks, log: log.Named("notify")}
}

func (f *Fanout) Notify(ctx context.Context, ev Event) error {
	for _, s := range f.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			f.log.Warn("notify sink failed",
				zap.String("type", ev.Type),
				zap.String("order_id", ev.OrderID),
				zap.String("request_id", ev.RequestID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// PublishRecorder counts delivered events per sink. Satisfied by
// *metrics.Registry.
type PublishRecorder interface {
	EventPublished(eventType, sink string)
}
