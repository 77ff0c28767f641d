// Package cashier keeps the cashier-facing order list in sync with owner
// decisions on cancel requests without a round trip to the backend.
package cashier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"github.com/kiwari-pos/canceldesk/internal/enum"
	"github.com/kiwari-pos/canceldesk/internal/ws"
	"go.uber.org/zap"
)

// OrderLister pages through orders. Satisfied by *backend.Client.
type OrderLister interface {
	ListOrders(ctx context.Context, page, limit int) ([]backend.RawOrder, error)
}

// override is a status flip received from the event stream.
type override struct {
	status string
	seq    uint64
}

// Board is the cashier order list cache.
type Board struct {
	src      OrderLister
	pageSize int
	maxPages int
	log      *zap.Logger

	mu        sync.RWMutex
	orders    map[string]cancellation.OrderSnapshot
	overrides map[string]override
	seq       uint64
}

func NewBoard(src OrderLister, pageSize, maxPages int, log *zap.Logger) *Board {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Board{
		src:       src,
		pageSize:  pageSize,
		maxPages:  maxPages,
		log:       log.Named("cashier"),
		orders:    make(map[string]cancellation.OrderSnapshot),
		overrides: make(map[string]override),
	}
}

// Refresh reloads the order list. Status flips that arrived while the load
// was in flight are laid back over the fresh data.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.RLock()
	startSeq := b.seq
	b.mu.RUnlock()

	fresh := make(map[string]cancellation.OrderSnapshot)
	for page := 1; page <= b.maxPages; page++ {
		raws, err := b.src.ListOrders(ctx, page, b.pageSize)
		if err != nil {
			return fmt.Errorf("cashier board: %w", err)
		}
		for _, raw := range raws {
			snap := cancellation.SnapshotOrder(raw)
			if snap.ID == "" {
				continue
			}
			fresh[snap.ID] = snap
		}
		if len(raws) < b.pageSize {
			break
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, o := range b.overrides {
		if o.seq <= startSeq {
			delete(b.overrides, id)
			continue
		}
		snap := fresh[id]
		snap.ID = id
		snap.Status = o.status
		fresh[id] = snap
	}
	b.orders = fresh
	return nil
}

// Orders returns the cached orders, newest first.
func (b *Board) Orders() []cancellation.OrderSnapshot {
	b.mu.RLock()
	out := make([]cancellation.OrderSnapshot, 0, len(b.orders))
	for _, o := range b.orders {
		if o.Cashier != nil {
			c := *o.Cashier
			o.Cashier = &c
		}
		out = append(out, o)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Order returns one cached order.
func (b *Board) Order(id string) (cancellation.OrderSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// Apply flips the cached status of orderID for a cancellation outcome:
// approved cancels the order, rejected makes it active again. Unknown event
// types are ignored. An order not in the cache gets a minimal entry so the
// outcome is not lost before the next refresh.
func (b *Board) Apply(eventType, orderID string) bool {
	var status string
	switch eventType {
	case enum.EventOrderCancellationApproved:
		status = enum.OrderStatusCancelled
	case enum.EventOrderCancellationRejected:
		status = enum.OrderStatusActive
	default:
		return false
	}
	if orderID == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.overrides[orderID] = override{status: status, seq: b.seq}
	o, ok := b.orders[orderID]
	if !ok {
		o = cancellation.OrderSnapshot{ID: orderID, OrderType: enum.OrderTypeDineIn}
	}
	o.Status = status
	b.orders[orderID] = o
	return true
}

type eventPayload struct {
	OrderID string `json:"order_id"`
}

// Run applies hub events until ctx is done or the channel closes.
func (b *Board) Run(ctx context.Context, events <-chan ws.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var p eventPayload
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				b.log.Warn("bad event payload", zap.String("type", ev.Type), zap.Error(err))
				continue
			}
			if b.Apply(ev.Type, p.OrderID) {
				b.log.Debug("order status flipped", zap.String("type", ev.Type), zap.String("order_id", p.OrderID))
			}
		}
	}
}
