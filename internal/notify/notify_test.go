package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kiwari-pos/canceldesk/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var sampleEvent = Event{
	Type:       "orderCancellationApproved",
	OrderID:    "ORD-3",
	RequestID:  "req-1",
	OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
}

type published struct {
	eventType string
	payload   any
	rooms     []string
}

type fakeHub struct {
	accept bool
	got    []published
}

func (f *fakeHub) Publish(eventType string, payload any, rooms ...string) bool {
	f.got = append(f.got, published{eventType, payload, rooms})
	return f.accept
}

type recorder struct{ sinks []string }

func (r *recorder) EventPublished(_, sink string) { r.sinks = append(r.sinks, sink) }

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(ctx, channel, message)
	return args.Get(0).(*redis.IntCmd)
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("sink down")
}

type countingNotifier struct{ got []Event }

func (c *countingNotifier) Notify(_ context.Context, ev Event) error {
	c.got = append(c.got, ev)
	return nil
}

func TestHubNotifier_PublishesPayloadToEveryRoom(t *testing.T) {
	hub := &fakeHub{accept: true}
	rec := &recorder{}
	n := NewHubNotifier(hub, rec, "cashier", "owner")

	require.NoError(t, n.Notify(context.Background(), sampleEvent))

	require.Len(t, hub.got, 1, "one publish covers every room")
	assert.Equal(t, []string{"cashier", "owner"}, hub.got[0].rooms)
	assert.Equal(t, "orderCancellationApproved", hub.got[0].eventType)

	body, err := json.Marshal(hub.got[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"ORD-3","request_id":"req-1"}`, string(body))
	assert.Equal(t, []string{"hub"}, rec.sinks)
}

func TestHubNotifier_OneDeliveryPerSubscriber(t *testing.T) {
	hub := ws.NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	events, unsubscribe := hub.Subscribe(8)
	defer unsubscribe()

	n := NewHubNotifier(hub, nil, ws.RoomCashier, ws.RoomOwner)
	require.NoError(t, n.Notify(context.Background(), sampleEvent))

	select {
	case ev := <-events:
		assert.Equal(t, sampleEvent.Type, ev.Type)
		assert.JSONEq(t, `{"order_id":"ORD-3","request_id":"req-1"}`, string(ev.Payload))
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
	select {
	case ev := <-events:
		t.Fatalf("one notification delivered twice: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubNotifier_ReportsDrop(t *testing.T) {
	n := NewHubNotifier(&fakeHub{accept: false}, nil, "cashier")

	assert.ErrorIs(t, n.Notify(context.Background(), sampleEvent), ErrDropped)
}

func TestRedisNotifier_Publishes(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	pub.On("Publish", ctx, "order_cancellation_events", mock.MatchedBy(func(msg []byte) bool {
		var ev Event
		return json.Unmarshal(msg, &ev) == nil && ev.OrderID == "ORD-3" && ev.RequestID == "req-1"
	})).Return(cmd)
	rec := &recorder{}

	n := NewRedisNotifier(pub, "order_cancellation_events", rec)

	require.NoError(t, n.Notify(ctx, sampleEvent))
	pub.AssertExpectations(t)
	assert.Equal(t, []string{"redis"}, rec.sinks)
}

func TestRedisNotifier_WrapsError(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("connection refused"))
	pub.On("Publish", ctx, "events", mock.Anything).Return(cmd)

	err := NewRedisNotifier(pub, "events", nil).Notify(ctx, sampleEvent)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to events")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFanout_LogsFailuresAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bad := &failingNotifier{}
	good := &countingNotifier{}

	f := NewFanout(zap.New(core), bad, good)

	assert.NoError(t, f.Notify(context.Background(), sampleEvent))
	assert.Equal(t, 1, bad.calls)
	require.Len(t, good.got, 1)
	assert.Equal(t, sampleEvent, good.got[0])
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "ORD-3", logs.All()[0].ContextMap()["order_id"])
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background(), sampleEvent))
}
