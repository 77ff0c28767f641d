package cancellation

import (
	"context"
	"errors"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errNoOrderID = errors.New("cancellation row has no order id")

// OrderSource fetches the order detail and line items for one order.
// Satisfied by *backend.Client; narrow interface for testability.
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (*backend.RawOrder, error)
	ListOrderItems(ctx context.Context, orderID string) ([]backend.RawOrderItem, error)
}

// DegradeRecorder is told each time enrichment falls back to partial data.
// part is "order" or "items".
type DegradeRecorder interface {
	EnrichmentDegraded(part string)
}

// Enrichment is what one cancellation row gained from the order endpoints.
// Order is nil and OrderErr set when the order fetch failed; Items is empty
// and ItemsErr set when the item fetch failed. The two are independent.
type Enrichment struct {
	Order    *backend.RawOrder
	Items    []backend.RawOrderItem
	OrderErr error
	ItemsErr error
}

// Enricher attaches order detail and line items to cancellation rows.
type Enricher struct {
	src      OrderSource
	limit    int
	log      *zap.Logger
	recorder DegradeRecorder
}

// NewEnricher creates an Enricher running at most limit records at once.
// recorder may be nil.
func NewEnricher(src OrderSource, limit int, log *zap.Logger, recorder DegradeRecorder) *Enricher {
	if limit <= 0 {
		limit = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Enricher{src: src, limit: limit, log: log.Named("enricher"), recorder: recorder}
}

// Enrich fetches the order, then its items. Neither failure is returned: the
// caller falls back to the partial order embedded in the row and to an
// empty item list.
func (e *Enricher) Enrich(ctx context.Context, raw backend.RawCancellation) Enrichment {
	var out Enrichment
	orderID := raw.OrderKey()
	if orderID == "" {
		out.OrderErr = errNoOrderID
		out.ItemsErr = errNoOrderID
		e.degraded(ctx, "order", raw, out.OrderErr)
		e.degraded(ctx, "items", raw, out.ItemsErr)
		return out
	}

	order, err := e.src.GetOrder(ctx, orderID)
	if err != nil || order == nil {
		if err == nil {
			err = errors.New("empty order payload")
		}
		out.OrderErr = err
		e.degraded(ctx, "order", raw, err)
	} else {
		out.Order = order
	}

	items, err := e.src.ListOrderItems(ctx, orderID)
	if err != nil {
		out.ItemsErr = err
		e.degraded(ctx, "items", raw, err)
	} else {
		out.Items = items
	}
	return out
}

// EnrichAll enriches every row concurrently. Result i belongs to raws[i];
// each task writes only its own slot.
func (e *Enricher) EnrichAll(ctx context.Context, raws []backend.RawCancellation) []Enrichment {
	out := make([]Enrichment, len(raws))

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i := range raws {
		i := i
		g.Go(func() error {
			out[i] = e.Enrich(ctx, raws[i])
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// degraded logs and counts a fallback. Nothing is counted once ctx is done.
func (e *Enricher) degraded(ctx context.Context, part string, raw backend.RawCancellation, err error) {
	if ctx.Err() != nil {
		return
	}
	e.log.Warn("enrichment degraded",
		zap.String("part", part),
		zap.String("cancellation_id", raw.Key()),
		zap.String("order_id", raw.OrderKey()),
		zap.Error(err),
	)
	if e.recorder != nil {
		e.recorder.EnrichmentDegraded(part)
	}
}
