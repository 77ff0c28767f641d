package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"github.com/kiwari-pos/canceldesk/internal/enum"
	"github.com/kiwari-pos/canceldesk/internal/notify"
	"go.uber.org/zap"
)

// Errors returned by the desk.
var (
	ErrNotFound         = errors.New("cancel request not found")
	ErrSuperseded       = errors.New("cancel request is superseded by another request for the same order")
	ErrAlreadyResolved  = errors.New("cancel request is not pending")
	ErrAlreadyProcessed = errors.New("cancel request was already processed; refresh first")
	ErrActionInFlight   = errors.New("an action on this cancel request is in progress")
	ErrActionFailed     = errors.New("backend rejected the action")
	ErrClosed           = errors.New("desk is closed")
)

// Source is the backend surface the desk reads from and writes to.
// Satisfied by *backend.Client; narrow interface for testability.
type Source interface {
	ListAllCancellations(ctx context.Context) ([]backend.RawCancellation, error)
	ApproveCancellation(ctx context.Context, id, approverID string) error
	RejectCancellation(ctx context.Context, id, rejecterID, reason string) error
}

// Enricher attaches order detail to raw rows. Satisfied by
// *cancellation.Enricher.
type Enricher interface {
	EnrichAll(ctx context.Context, raws []backend.RawCancellation) []cancellation.Enrichment
}

// Recorder receives desk metrics. Satisfied by *metrics.Registry.
type Recorder interface {
	RefreshObserved(ok bool, seconds float64)
	ActionObserved(action, result string)
	SetVisible(pending, approved, rejected, superseded int)
}

type nopRecorder struct{}

func (nopRecorder) RefreshObserved(bool, float64) {}
func (nopRecorder) ActionObserved(string, string) {}
func (nopRecorder) SetVisible(int, int, int, int) {}

// Actor is the signed-in user resolving a request.
type Actor struct {
	ID       string
	Username string
}

func (a Actor) person() cancellation.Person {
	name := a.Username
	if name == "" {
		name = a.ID
	}
	return cancellation.Person{ID: a.ID, Username: a.Username, DisplayName: name}
}

// View is one visible request plus its transient action phase
// (enum.PhaseApproving / enum.PhaseRejecting, or empty).
type View struct {
	cancellation.CancelRequest
	Phase string `json:"phase,omitempty"`
}

// Snapshot is a consistent read of the desk.
type Snapshot struct {
	Requests  []View
	Summary   cancellation.Summary
	FetchErr  error
	FetchedAt time.Time
}

// resolution is a locally committed approve/reject. It is laid over fresh
// fetches until a refresh that started after the commit replaces it.
type resolution struct {
	status   cancellation.Status
	by       cancellation.Person
	at       time.Time
	reason   string
	afterGen uint64
}

// Config tunes a Desk. Zero values are usable.
type Config struct {
	// RefetchDelay is how long after an action the desk re-reads the backend.
	// Zero disables the delayed refetch.
	RefetchDelay time.Duration
}

// Desk owns the owner-side working set of cancel requests and the approve /
// reject state machine. The backend stays the source of truth: every refresh
// replaces the set wholesale, and nothing is committed locally before the
// backend accepts an action.
type Desk struct {
	src      Source
	enricher Enricher
	notifier notify.Notifier
	recorder Recorder
	log      *zap.Logger
	delay    time.Duration
	now      func() time.Time

	mu          sync.Mutex
	requests    []cancellation.CancelRequest
	phases      map[string]string
	resolutions map[string]resolution
	fetchErr    error
	fetchedAt   time.Time
	started     uint64 // generation of the newest refresh started
	applied     uint64 // generation of the refresh currently shown
	refetch     *time.Timer
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	closed      bool
}

// NewDesk wires a desk. notifier and recorder may be nil.
func NewDesk(src Source, enricher Enricher, notifier notify.Notifier, recorder Recorder, log *zap.Logger, cfg Config) *Desk {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Desk{
		src:         src,
		enricher:    enricher,
		notifier:    notifier,
		recorder:    recorder,
		log:         log.Named("desk"),
		delay:       cfg.RefetchDelay,
		now:         time.Now,
		phases:      make(map[string]string),
		resolutions: make(map[string]resolution),
		baseCtx:     ctx,
		cancelBase:  cancel,
	}
}

// Refresh re-reads every cancellation row, enriches, normalizes and
// reconciles them, and replaces the working set. When the list fetch fails
// the previous set stays and the error is kept for Snapshot. A refresh that
// finishes after a newer one has already been applied is discarded.
func (d *Desk) Refresh(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.started++
	gen := d.started
	d.mu.Unlock()

	start := time.Now()
	raws, err := d.src.ListAllCancellations(ctx)
	if err != nil {
		d.recorder.RefreshObserved(false, time.Since(start).Seconds())
		if ctx.Err() != nil {
			return fmt.Errorf("refresh: %w", ctx.Err())
		}
		d.mu.Lock()
		if gen > d.applied {
			d.fetchErr = err
		}
		d.mu.Unlock()
		d.log.Error("refresh failed", zap.Uint64("generation", gen), zap.Error(err))
		return fmt.Errorf("list cancellations: %w", err)
	}

	enrichments := d.enricher.EnrichAll(ctx, raws)
	if ctx.Err() != nil {
		// Every fetch after cancellation degraded; keep the current set.
		d.log.Debug("refresh abandoned", zap.Uint64("generation", gen), zap.Error(ctx.Err()))
		return fmt.Errorf("refresh: %w", ctx.Err())
	}
	normalized := make([]cancellation.CancelRequest, len(raws))
	for i := range raws {
		normalized[i] = cancellation.Normalize(raws[i], enrichments[i])
	}

	d.mu.Lock()
	if gen <= d.applied {
		d.mu.Unlock()
		d.log.Debug("stale refresh discarded", zap.Uint64("generation", gen))
		return nil
	}
	for id, res := range d.resolutions {
		if gen > res.afterGen {
			delete(d.resolutions, id)
			continue
		}
		applyResolution(normalized, id, res)
	}
	d.requests = cancellation.Reconcile(normalized)
	d.applied = gen
	d.fetchErr = nil
	d.fetchedAt = d.now()
	d.publishGaugesLocked()
	count := len(d.requests)
	d.mu.Unlock()

	d.recorder.RefreshObserved(true, time.Since(start).Seconds())
	d.log.Info("refreshed",
		zap.Uint64("generation", gen),
		zap.Int("rows", count),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Snapshot returns the visible requests newest first with their transient
// phase, the summary, and the last fetch state. includeSuperseded returns
// hidden duplicates too (the summary still counts visible rows only).
func (d *Desk) Snapshot(includeSuperseded bool) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := cancellation.Visible(d.requests)
	if includeSuperseded {
		rows = cancellation.CloneAll(d.requests)
	}
	views := make([]View, len(rows))
	for i, r := range rows {
		views[i] = View{CancelRequest: r.Clone(), Phase: d.phases[r.ID]}
	}
	return Snapshot{
		Requests:  views,
		Summary:   cancellation.Summarize(d.requests),
		FetchErr:  d.fetchErr,
		FetchedAt: d.fetchedAt,
	}
}

// Get returns one request by id, superseded or not.
func (d *Desk) Get(id string) (View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexLocked(id)
	if i < 0 {
		return View{}, ErrNotFound
	}
	return View{CancelRequest: d.requests[i].Clone(), Phase: d.phases[id]}, nil
}

// Approve resolves a pending request as approved on the backend, then
// updates the working set, notifies other views and schedules a refetch.
func (d *Desk) Approve(ctx context.Context, id string, actor Actor) (cancellation.CancelRequest, error) {
	return d.act(ctx, id, enum.PhaseApproving, actor, "")
}

// Reject resolves a pending request as rejected. The order goes back to
// active locally; the backend does the same on its side.
func (d *Desk) Reject(ctx context.Context, id string, actor Actor, reason string) (cancellation.CancelRequest, error) {
	return d.act(ctx, id, enum.PhaseRejecting, actor, reason)
}

func (d *Desk) act(ctx context.Context, id, phase string, actor Actor, reason string) (cancellation.CancelRequest, error) {
	action := "approve"
	if phase == enum.PhaseRejecting {
		action = "reject"
	}

	row, err := d.begin(id, phase)
	if err != nil {
		d.recorder.ActionObserved(action, "refused")
		return cancellation.CancelRequest{}, err
	}

	if phase == enum.PhaseApproving {
		err = d.src.ApproveCancellation(ctx, id, actor.ID)
	} else {
		err = d.src.RejectCancellation(ctx, id, actor.ID, reason)
	}

	log := d.log.With(
		zap.String("action", action),
		zap.String("request_id", id),
		zap.String("order_id", row.Order.ID),
		zap.String("actor", actor.ID),
	)

	if err != nil {
		d.mu.Lock()
		delete(d.phases, id)
		d.mu.Unlock()
		d.recorder.ActionObserved(action, "failed")
		log.Warn("action failed", zap.Error(err))
		return cancellation.CancelRequest{}, fmt.Errorf("%w: %w", ErrActionFailed, err)
	}

	res := resolution{
		status: cancellation.StatusApproved,
		by:     actor.person(),
		at:     d.now(),
	}
	eventType := enum.EventOrderCancellationApproved
	if phase == enum.PhaseRejecting {
		res.status = cancellation.StatusRejected
		res.reason = reason
		eventType = enum.EventOrderCancellationRejected
	}

	d.mu.Lock()
	delete(d.phases, id)
	res.afterGen = d.started
	d.resolutions[id] = res
	next := cancellation.CloneAll(d.requests)
	applyResolution(next, id, res)
	d.requests = cancellation.Reconcile(next)
	d.publishGaugesLocked()
	var updated cancellation.CancelRequest
	if i := d.indexLocked(id); i >= 0 {
		updated = d.requests[i].Clone()
	} else {
		// A refresh dropped the row while the action was in flight.
		one := []cancellation.CancelRequest{row}
		applyResolution(one, id, res)
		updated = one[0]
	}
	d.mu.Unlock()

	d.recorder.ActionObserved(action, "ok")
	log.Info("action committed")

	ev := notify.Event{Type: eventType, OrderID: row.Order.ID, RequestID: id, OccurredAt: res.at}
	if err := d.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("notify failed", zap.Error(err))
	}

	d.scheduleRefetch()
	return updated, nil
}

// begin checks the guards and marks the transient phase. It returns a copy
// of the request as it was when the action started.
func (d *Desk) begin(id, phase string) (cancellation.CancelRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return cancellation.CancelRequest{}, ErrClosed
	}
	i := d.indexLocked(id)
	if i < 0 {
		return cancellation.CancelRequest{}, ErrNotFound
	}
	r := d.requests[i]
	switch {
	case d.phases[id] != "":
		return cancellation.CancelRequest{}, ErrActionInFlight
	case r.IsLocallyProcessed:
		return cancellation.CancelRequest{}, ErrAlreadyProcessed
	case r.Status != cancellation.StatusPending:
		return cancellation.CancelRequest{}, ErrAlreadyResolved
	case r.IsSuperseded:
		return cancellation.CancelRequest{}, ErrSuperseded
	}
	d.phases[id] = phase
	return r.Clone(), nil
}

// applyResolution lays a committed action over row id in rows, if present.
func applyResolution(rows []cancellation.CancelRequest, id string, res resolution) {
	for i := range rows {
		if rows[i].ID != id {
			continue
		}
		r := &rows[i]
		r.Status = res.status
		r.IsLocallyProcessed = true
		by := res.by
		at := res.at
		switch res.status {
		case cancellation.StatusApproved:
			r.ApprovedBy = &by
			r.ApprovedAt = &at
			r.Order.Status = enum.OrderStatusCancelled
		case cancellation.StatusRejected:
			r.RejectedBy = &by
			r.RejectedAt = &at
			r.RejectionReason = res.reason
			r.Order.Status = enum.OrderStatusActive
		}
	}
}

func (d *Desk) indexLocked(id string) int {
	for i := range d.requests {
		if d.requests[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *Desk) publishGaugesLocked() {
	s := cancellation.Summarize(d.requests)
	d.recorder.SetVisible(s.PendingCount, s.ApprovedCount, s.RejectedCount, s.Superseded)
}

// scheduleRefetch (re)arms the delayed refresh. Several actions in quick
// succession collapse into one refetch.
func (d *Desk) scheduleRefetch() {
	if d.delay <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.refetch != nil {
		d.refetch.Stop()
	}
	d.refetch = time.AfterFunc(d.delay, func() {
		if err := d.Refresh(d.baseCtx); err != nil && !errors.Is(err, ErrClosed) {
			d.log.Warn("delayed refetch failed", zap.Error(err))
		}
	})
}

// Close stops any pending delayed refetch and cancels one in progress.
func (d *Desk) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.refetch != nil {
		d.refetch.Stop()
	}
	d.cancelBase()
}
