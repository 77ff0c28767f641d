package notify

import (
	"context"
	"errors"
)

// ErrDropped is returned when the hub was saturated and discarded the event.
var ErrDropped = errors.New("event dropped")

// Broadcaster is the hub's publishing side. Satisfied by *ws.Hub.
type Broadcaster interface {
	Publish(eventType string, payload any, rooms ...string) bool
}

// HubNotifier publishes events to WebSocket rooms through the hub. Every
// in-process hub subscriber (the cashier board) sees each event once.
type HubNotifier struct {
	hub      Broadcaster
	rooms    []string
	recorder PublishRecorder
}

// NewHubNotifier publishes to each of rooms. recorder may be nil.
func NewHubNotifier(hub Broadcaster, recorder PublishRecorder, rooms ...string) *HubNotifier {
	return &HubNotifier{hub: hub, rooms: rooms, recorder: recorder}
}

func (n *HubNotifier) Notify(_ context.Context, ev Event) error {
	body := payload{OrderID: ev.OrderID, RequestID: ev.RequestID}
	if !n.hub.Publish(ev.Type, body, n.rooms...) {
		return ErrDropped
	}
	if n.recorder != nil {
		n.recorder.EventPublished(ev.Type, "hub")
	}
	return nil
}
