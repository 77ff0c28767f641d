package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Rooms clients can join. Cashier views receive cancellation outcomes; owner
// views receive the same stream so a second owner tab stays in sync.
const (
	RoomCashier = "cashier"
	RoomOwner   = "owner"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomEvent is an internal struct for routing one event to its rooms
type roomEvent struct {
	Rooms []string
	Event Event
}

// ConnectionObserver is told when WebSocket clients come and go.
type ConnectionObserver interface {
	ClientConnected()
	ClientDisconnected()
}

type subscription struct {
	ch chan Event
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Delivery is best-effort: Publish never blocks, and a subscriber or client
// that cannot keep up loses messages rather than stalling the hub.
type Hub struct {
	// Registered clients by room
	rooms map[string]map[*Client]bool

	// In-process subscribers receive every event regardless of room
	subs map[*subscription]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscription
	unsubscribe chan *subscription

	// Outbound messages to broadcast
	broadcast chan *roomEvent

	observer ConnectionObserver
	log      *zap.Logger

	// done is closed when Run returns
	done chan struct{}

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance. observer may be nil.
func NewHub(log *zap.Logger, observer ConnectionObserver) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[string]map[*Client]bool),
		subs:        make(map[*subscription]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan *subscription),
		unsubscribe: make(chan *subscription),
		broadcast:   make(chan *roomEvent, 256),
		done:        make(chan struct{}),
		observer:    observer,
		log:         log.Named("hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.room] == nil {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case sub := <-h.subscribe:
			h.subs[sub] = true

		case sub := <-h.unsubscribe:
			if h.subs[sub] {
				delete(h.subs, sub)
				close(sub.ch)
			}

		case event := <-h.broadcast:
			for sub := range h.subs {
				select {
				case sub.ch <- event.Event:
				default:
					h.log.Warn("subscriber buffer full, event dropped", zap.String("type", event.Event.Type))
				}
			}

			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.log.Error("marshal event", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for _, room := range event.Rooms {
				for client := range h.rooms[room] {
					select {
					case client.send <- message:
					default:
						// Client's send buffer is full, close and unregister
						h.removeLocked(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// removeLocked drops a client and closes its send channel. Caller holds mu.
func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.room]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	// Clean up empty rooms
	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.removeLocked(client)
		}
	}
	h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish queues one event for every client in rooms and every in-process
// subscriber. Subscribers get it once however many rooms are listed, and
// every copy carries the same id. It reports false when the hub is
// saturated and the event was dropped.
func (h *Hub) Publish(eventType string, payload any, rooms ...string) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal payload", zap.String("type", eventType), zap.Error(err))
		return false
	}
	ev := &roomEvent{
		Rooms: uniqueRooms(rooms),
		Event: Event{ID: uuid.NewString(), Type: eventType, Payload: raw},
	}
	select {
	case h.broadcast <- ev:
		return true
	default:
		h.log.Warn("hub saturated, event dropped", zap.String("type", eventType))
		return false
	}
}

func uniqueRooms(rooms []string) []string {
	out := make([]string, 0, len(rooms))
	seen := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// Subscribe registers an in-process listener; Run must already be running.
// The returned cancel func unregisters it and closes the channel. After Run
// returns the channel is closed by the hub itself.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Event, buffer)}
	select {
	case h.subscribe <- sub:
	case <-h.done:
		close(sub.ch)
		return sub.ch, func() {}
	}
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			select {
			case h.unsubscribe <- sub:
			case <-h.done:
			}
		})
	}
}

// join hands a client to the hub loop. It reports false once the hub has
// stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave is the counterpart of join.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients in room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
