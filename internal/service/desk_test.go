package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiwari-pos/canceldesk/internal/backend"
	"github.com/kiwari-pos/canceldesk/internal/cancellation"
	"github.com/kiwari-pos/canceldesk/internal/enum"
	"github.com/kiwari-pos/canceldesk/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource implements Source for testing.
type mockSource struct {
	mu        sync.Mutex
	listFn    func(ctx context.Context) ([]backend.RawCancellation, error)
	approveFn func(ctx context.Context, id, approverID string) error
	rejectFn  func(ctx context.Context, id, rejecterID, reason string) error
	approved  []string
	rejected  []string
}

func (m *mockSource) ListAllCancellations(ctx context.Context) ([]backend.RawCancellation, error) {
	return m.listFn(ctx)
}

func (m *mockSource) ApproveCancellation(ctx context.Context, id, approverID string) error {
	m.mu.Lock()
	m.approved = append(m.approved, id+"/"+approverID)
	m.mu.Unlock()
	if m.approveFn != nil {
		return m.approveFn(ctx, id, approverID)
	}
	return nil
}

func (m *mockSource) RejectCancellation(ctx context.Context, id, rejecterID, reason string) error {
	m.mu.Lock()
	m.rejected = append(m.rejected, id+"/"+rejecterID+"/"+reason)
	m.mu.Unlock()
	if m.rejectFn != nil {
		return m.rejectFn(ctx, id, rejecterID, reason)
	}
	return nil
}

// embeddedOnly skips order fetches; rows keep their embedded order.
type embeddedOnly struct{}

func (embeddedOnly) EnrichAll(_ context.Context, raws []backend.RawCancellation) []cancellation.Enrichment {
	return make([]cancellation.Enrichment, len(raws))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func rows(t *testing.T, s string) []backend.RawCancellation {
	t.Helper()
	var out []backend.RawCancellation
	require.NoError(t, json.Unmarshal([]byte(s), &out))
	return out
}

func staticList(raws []backend.RawCancellation) func(context.Context) ([]backend.RawCancellation, error) {
	return func(context.Context) ([]backend.RawCancellation, error) { return raws, nil }
}

var owner = Actor{ID: "owner-1", Username: "bu_sari"}

const ord5Duplicates = `[
	{"id":"c-1","order_id":"ORD-5","status":"pending","cancelled_at":"2025-03-01T10:00:00Z","order":{"id":"ORD-5","total_price":"45000","status":"pending"}},
	{"id":"c-2","order_id":"ORD-5","status":"pending","cancelled_at":"2025-03-01T10:05:00Z","order":{"id":"ORD-5","total_price":"45000","status":"pending"}},
	{"id":"c-3","order_id":"ORD-6","status":"approved","cancelled_at":"2025-03-01T09:00:00Z","order":{"id":"ORD-6","total_price":"12000"}}
]`

func newTestDesk(t *testing.T, src *mockSource, n notify.Notifier) *Desk {
	t.Helper()
	d := NewDesk(src, embeddedOnly{}, n, nil, nil, Config{})
	d.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(d.Close)
	return d
}

func TestDesk_RefreshReconciles(t *testing.T) {
	src := &mockSource{listFn: staticList(rows(t, ord5Duplicates))}
	d := newTestDesk(t, src, nil)

	require.NoError(t, d.Refresh(context.Background()))
	snap := d.Snapshot(false)

	require.Len(t, snap.Requests, 2)
	assert.Equal(t, "c-2", snap.Requests[0].ID, "newest ORD-5 request wins")
	assert.Equal(t, "c-3", snap.Requests[1].ID)
	assert.Equal(t, 1, snap.Summary.PendingCount)
	assert.Equal(t, 1, snap.Summary.ApprovedCount)
	assert.Equal(t, 1, snap.Summary.Superseded)
	assert.NoError(t, snap.FetchErr)
	assert.False(t, snap.FetchedAt.IsZero())

	all := d.Snapshot(true)
	assert.Len(t, all.Requests, 3)
}

func TestDesk_ApproveWithDuplicatePending(t *testing.T) {
	src := &mockSource{listFn: staticList(rows(t, ord5Duplicates))}
	n := &recordingNotifier{}
	d := newTestDesk(t, src, n)
	require.NoError(t, d.Refresh(context.Background()))
	before := d.Snapshot(false).Summary

	updated, err := d.Approve(context.Background(), "c-2", owner)
	require.NoError(t, err)

	assert.Equal(t, cancellation.StatusApproved, updated.Status)
	assert.True(t, updated.IsLocallyProcessed)
	require.NotNil(t, updated.ApprovedBy)
	assert.Equal(t, "owner-1", updated.ApprovedBy.ID)
	require.NotNil(t, updated.ApprovedAt)
	assert.Equal(t, enum.OrderStatusCancelled, updated.Order.Status)

	after := d.Snapshot(true)
	var visibleForOrder []string
	for _, r := range after.Requests {
		if r.Order.ID == "ORD-5" && !r.IsSuperseded {
			visibleForOrder = append(visibleForOrder, r.ID)
		}
	}
	assert.Equal(t, []string{"c-2"}, visibleForOrder)
	assert.Equal(t, before.ApprovedCount+1, after.Summary.ApprovedCount)
	assert.Equal(t, before.PendingCount-1, after.Summary.PendingCount)

	assert.Equal(t, []string{"c-2/owner-1"}, src.approved)
	events := n.all()
	require.Len(t, events, 1)
	assert.Equal(t, enum.EventOrderCancellationApproved, events[0].Type)
	assert.Equal(t, "ORD-5", events[0].OrderID)
	assert.Equal(t, "c-2", events[0].RequestID)
}

func TestDesk_SupersededRowRefused(t *testing.T) {
	src := &mockSource{listFn: staticList(rows(t, ord5Duplicates))}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.Approve(context.Background(), "c-1", owner)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Empty(t, src.approved, "guard refuses before calling the backend")
}

func TestDesk_Reject(t *testing.T) {
	src := &mockSource{listFn: staticList(rows(t, `[
		{"id":"req-1","order_id":"ORD-3","status":"pending","cancelled_at":"2025-03-01T10:00:00Z",
		 "order":{"id":"ORD-3","status":"cancelled","total_price":20000}}
	]`))}
	n := &recordingNotifier{}
	d := newTestDesk(t, src, n)
	require.NoError(t, d.Refresh(context.Background()))

	updated, err := d.Reject(context.Background(), "req-1", owner, "food already served")
	require.NoError(t, err)

	assert.Equal(t, cancellation.StatusRejected, updated.Status)
	assert.Equal(t, enum.OrderStatusActive, updated.Order.Status)
	assert.Equal(t, "food already served", updated.RejectionReason)
	require.NotNil(t, updated.RejectedBy)
	assert.Equal(t, "bu_sari", updated.RejectedBy.DisplayName)
	assert.Equal(t, []string{"req-1/owner-1/food already served"}, src.rejected)

	events := n.all()
	require.Len(t, events, 1)
	assert.Equal(t, enum.EventOrderCancellationRejected, events[0].Type)
	assert.Equal(t, "ORD-3", events[0].OrderID)

	summary := d.Snapshot(false).Summary
	assert.Equal(t, 1, summary.RejectedCount)
	assert.Equal(t, 0, summary.PendingCount)
}

func TestDesk_ActionFailureLeavesPending(t *testing.T) {
	backendErr := errors.New("503 service unavailable")
	src := &mockSource{
		listFn:    staticList(rows(t, ord5Duplicates)),
		approveFn: func(context.Context, string, string) error { return backendErr },
	}
	n := &recordingNotifier{}
	d := newTestDesk(t, src, n)
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.Approve(context.Background(), "c-2", owner)

	require.ErrorIs(t, err, ErrActionFailed)
	require.ErrorIs(t, err, backendErr)
	v, getErr := d.Get("c-2")
	require.NoError(t, getErr)
	assert.Equal(t, cancellation.StatusPending, v.Status)
	assert.False(t, v.IsLocallyProcessed)
	assert.Empty(t, v.Phase)
	assert.Empty(t, n.all())

	// Retry is allowed and succeeds once the backend recovers.
	src.approveFn = nil
	updated, err := d.Approve(context.Background(), "c-2", owner)
	require.NoError(t, err)
	assert.Equal(t, cancellation.StatusApproved, updated.Status)
}

func TestDesk_Guards(t *testing.T) {
	src := &mockSource{listFn: staticList(rows(t, ord5Duplicates))}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.Approve(context.Background(), "nope", owner)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Reject(context.Background(), "c-3", owner, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = d.Approve(context.Background(), "c-2", owner)
	require.NoError(t, err)
	_, err = d.Reject(context.Background(), "c-2", owner, "changed my mind")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	assert.Equal(t, []string{"c-2/owner-1"}, src.approved)
	assert.Empty(t, src.rejected)
}

func TestDesk_ActionInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	src := &mockSource{
		listFn: staticList(rows(t, `[
			{"id":"a","order_id":"ORD-1","status":"pending"},
			{"id":"b","order_id":"ORD-2","status":"pending"}
		]`)),
		approveFn: func(_ context.Context, id, _ string) error {
			if id == "a" {
				close(entered)
				<-release
			}
			return nil
		},
	}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := d.Approve(context.Background(), "a", owner)
		done <- err
	}()
	<-entered

	v, _ := d.Get("a")
	assert.Equal(t, enum.PhaseApproving, v.Phase)
	snap := d.Snapshot(false)
	for _, r := range snap.Requests {
		if r.ID == "a" {
			assert.Equal(t, enum.PhaseApproving, r.Phase)
		}
	}

	_, err := d.Reject(context.Background(), "a", owner, "")
	assert.ErrorIs(t, err, ErrActionInFlight)

	// A different request is independent.
	_, err = d.Approve(context.Background(), "b", owner)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	v, _ = d.Get("a")
	assert.Empty(t, v.Phase)
	assert.Equal(t, cancellation.StatusApproved, v.Status)
}

func TestDesk_RefreshFailureKeepsPreviousSet(t *testing.T) {
	fail := errors.New("connection refused")
	src := &mockSource{listFn: staticList(rows(t, ord5Duplicates))}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	src.listFn = func(context.Context) ([]backend.RawCancellation, error) { return nil, fail }
	err := d.Refresh(context.Background())

	require.ErrorIs(t, err, fail)
	snap := d.Snapshot(false)
	assert.Len(t, snap.Requests, 2)
	assert.ErrorIs(t, snap.FetchErr, fail)

	src.listFn = staticList(rows(t, ord5Duplicates))
	require.NoError(t, d.Refresh(context.Background()))
	assert.NoError(t, d.Snapshot(false).FetchErr)
}

func TestDesk_RefreshClearsLocalProcessing(t *testing.T) {
	raws := rows(t, ord5Duplicates)
	src := &mockSource{listFn: staticList(raws)}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.Approve(context.Background(), "c-2", owner)
	require.NoError(t, err)

	// The backend now reports the row as approved.
	resolved := rows(t, ord5Duplicates)
	resolved[1].Status = "approved"
	src.listFn = staticList(resolved)
	require.NoError(t, d.Refresh(context.Background()))

	v, err := d.Get("c-2")
	require.NoError(t, err)
	assert.Equal(t, cancellation.StatusApproved, v.Status)
	assert.False(t, v.IsLocallyProcessed)
}

func TestDesk_StaleRefreshDoesNotOverwriteNewer(t *testing.T) {
	slowRelease := make(chan struct{})
	slowEntered := make(chan struct{})
	calls := 0
	var mu sync.Mutex
	src := &mockSource{}
	src.listFn = func(context.Context) ([]backend.RawCancellation, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(slowEntered)
			<-slowRelease
			return rows(t, `[{"id":"old","order_id":"ORD-1","status":"pending"}]`), nil
		}
		return rows(t, `[{"id":"new","order_id":"ORD-2","status":"pending"}]`), nil
	}
	d := newTestDesk(t, src, nil)

	slowDone := make(chan error, 1)
	go func() { slowDone <- d.Refresh(context.Background()) }()
	<-slowEntered

	require.NoError(t, d.Refresh(context.Background()))
	close(slowRelease)
	require.NoError(t, <-slowDone)

	snap := d.Snapshot(false)
	require.Len(t, snap.Requests, 1)
	assert.Equal(t, "new", snap.Requests[0].ID)
}

func TestDesk_ResolutionSurvivesRefreshStartedBeforeCommit(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	pending := rows(t, `[{"id":"a","order_id":"ORD-1","status":"pending"}]`)
	first := true
	src := &mockSource{}
	src.listFn = func(context.Context) ([]backend.RawCancellation, error) {
		if first {
			first = false
			return pending, nil
		}
		close(entered)
		<-release
		// Read before the backend saw the approval.
		return pending, nil
	}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	done := make(chan error, 1)
	go func() { done <- d.Refresh(context.Background()) }()
	<-entered

	_, err := d.Approve(context.Background(), "a", owner)
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-done)

	v, _ := d.Get("a")
	assert.Equal(t, cancellation.StatusApproved, v.Status)
	assert.True(t, v.IsLocallyProcessed)
}

func TestDesk_DelayedRefetchIsDebounced(t *testing.T) {
	var mu sync.Mutex
	lists := 0
	raws := rows(t, `[
		{"id":"a","order_id":"ORD-1","status":"pending"},
		{"id":"b","order_id":"ORD-2","status":"pending"}
	]`)
	src := &mockSource{listFn: func(context.Context) ([]backend.RawCancellation, error) {
		mu.Lock()
		lists++
		mu.Unlock()
		return raws, nil
	}}
	d := NewDesk(src, embeddedOnly{}, nil, nil, nil, Config{RefetchDelay: 30 * time.Millisecond})
	defer d.Close()
	require.NoError(t, d.Refresh(context.Background()))

	_, err := d.Approve(context.Background(), "a", owner)
	require.NoError(t, err)
	_, err = d.Approve(context.Background(), "b", owner)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lists == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, lists, "two actions collapse into one refetch")
	mu.Unlock()
}

func TestDesk_CloseStopsRefetch(t *testing.T) {
	var mu sync.Mutex
	lists := 0
	src := &mockSource{listFn: func(context.Context) ([]backend.RawCancellation, error) {
		mu.Lock()
		lists++
		mu.Unlock()
		return rows(t, `[{"id":"a","order_id":"ORD-1","status":"pending"}]`), nil
	}}
	d := NewDesk(src, embeddedOnly{}, nil, nil, nil, Config{RefetchDelay: 20 * time.Millisecond})
	require.NoError(t, d.Refresh(context.Background()))
	_, err := d.Approve(context.Background(), "a", owner)
	require.NoError(t, err)

	d.Close()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, lists)
	mu.Unlock()
	assert.ErrorIs(t, d.Refresh(context.Background()), ErrClosed)
}

// enricherFunc adapts a function to Enricher.
type enricherFunc func(ctx context.Context, raws []backend.RawCancellation) []cancellation.Enrichment

func (f enricherFunc) EnrichAll(ctx context.Context, raws []backend.RawCancellation) []cancellation.Enrichment {
	return f(ctx, raws)
}

func TestDesk_CancelledRefreshKeepsEnrichedSet(t *testing.T) {
	raws := rows(t, `[{"id":"c-1","order_id":"ORD-1","status":"pending","cancelled_at":"2025-03-01T10:00:00Z","order":{"id":"ORD-1"}}]`)
	src := &mockSource{listFn: staticList(raws)}

	var cancelRefresh context.CancelFunc
	enricher := enricherFunc(func(ctx context.Context, raws []backend.RawCancellation) []cancellation.Enrichment {
		out := make([]cancellation.Enrichment, len(raws))
		if cancelRefresh != nil {
			// The caller goes away while order detail is being fetched.
			cancelRefresh()
			for i := range out {
				out[i].OrderErr = ctx.Err()
				out[i].ItemsErr = ctx.Err()
			}
			return out
		}
		for i := range out {
			out[i].Order = &backend.RawOrder{ID: "ORD-1", CustomerName: "Full Name"}
			out[i].Items = []backend.RawOrderItem{{ID: "i-1", ProductName: "Nasi Bakar"}}
		}
		return out
	})
	d := NewDesk(src, enricher, nil, nil, nil, Config{})
	t.Cleanup(d.Close)

	require.NoError(t, d.Refresh(context.Background()))
	fetchedAt := d.Snapshot(false).FetchedAt

	ctx, cancel := context.WithCancel(context.Background())
	cancelRefresh = cancel
	err := d.Refresh(ctx)

	require.ErrorIs(t, err, context.Canceled)
	snap := d.Snapshot(false)
	require.Len(t, snap.Requests, 1)
	assert.Len(t, snap.Requests[0].Items, 1)
	assert.Equal(t, "Full Name", snap.Requests[0].Order.CustomerName)
	assert.NoError(t, snap.FetchErr)
	assert.Equal(t, fetchedAt, snap.FetchedAt)
}

func TestDesk_CancelledListDoesNotRecordFetchError(t *testing.T) {
	src := &mockSource{listFn: func(ctx context.Context) ([]backend.RawCancellation, error) {
		return nil, ctx.Err()
	}}
	d := newTestDesk(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, d.Refresh(ctx), context.Canceled)
	assert.NoError(t, d.Snapshot(false).FetchErr)
}

func TestDesk_ApproveReturnsRowDroppedByConcurrentRefresh(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	src := &mockSource{
		listFn: staticList(rows(t, `[{"id":"a","order_id":"ORD-1","status":"pending"}]`)),
		approveFn: func(context.Context, string, string) error {
			close(entered)
			<-release
			return nil
		},
	}
	d := newTestDesk(t, src, nil)
	require.NoError(t, d.Refresh(context.Background()))

	type result struct {
		req cancellation.CancelRequest
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := d.Approve(context.Background(), "a", owner)
		done <- result{r, err}
	}()
	<-entered

	// The backend stops reporting the row while the approve is in flight.
	src.listFn = staticList(nil)
	require.NoError(t, d.Refresh(context.Background()))
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "a", res.req.ID)
	assert.Equal(t, "ORD-1", res.req.Order.ID)
	assert.Equal(t, cancellation.StatusApproved, res.req.Status)
	assert.True(t, res.req.IsLocallyProcessed)
	require.NotNil(t, res.req.ApprovedBy)
	assert.Equal(t, owner.ID, res.req.ApprovedBy.ID)
}
