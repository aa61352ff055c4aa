package fanout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDispatcher(t *testing.T, r *Registry) *Dispatcher {
	t.Helper()
	d := NewDispatcher(r, 16)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcherEndToEnd(t *testing.T) {
	r := NewRegistry(Options{})
	d := startDispatcher(t, r)
	ctx := context.Background()

	s := r.Subscribe([]TagID{"1", "2"}, 0)

	require.NoError(t, d.Publish(ctx, Message{TagID: "1", Value: "10", Timestamp: "t1"}))
	got := r.GetMessages(ctx, s, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, Message{TagID: "1", Value: "10", Timestamp: "t1"}, got[0])

	require.NoError(t, d.Publish(ctx, Message{TagID: "3", Value: "99", Timestamp: "t2"}))
	assert.Eventually(t, func() bool { return d.Stats().Unrouted == 1 }, time.Second, 5*time.Millisecond)

	assert.Empty(t, r.GetMessages(ctx, s, 20*time.Millisecond))
	assert.Equal(t, uint64(2), d.Stats().Dispatched)
}

func TestDispatcherSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	const capacity = 4
	r := NewRegistry(Options{QueueCapacity: capacity})
	d := startDispatcher(t, r)
	ctx := context.Background()

	slow := r.Subscribe([]TagID{"slow"}, 0)
	fast := r.Subscribe([]TagID{"fast"}, 0)

	// Nobody reads the slow queue
	for i := 0; i <= capacity; i++ {
		require.NoError(t, d.Publish(ctx, Message{TagID: "slow", Value: fmt.Sprint(i)}))
	}
	require.NoError(t, d.Publish(ctx, Message{TagID: "fast", Value: "ok"}))

	got := r.GetMessages(ctx, fast, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Value)

	backlog := r.GetMessages(ctx, slow, time.Millisecond)
	assert.Len(t, backlog, capacity)
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestDispatcherDispatchCountsDelivered(t *testing.T) {
	r := NewRegistry(Options{})
	d := NewDispatcher(r, 1)

	r.Subscribe([]TagID{"1"}, 0)
	r.Subscribe([]TagID{"1", "2"}, 0)

	assert.Equal(t, 2, d.Dispatch(Message{TagID: "1"}))
	assert.Equal(t, 1, d.Dispatch(Message{TagID: "2"}))
	assert.Equal(t, 0, d.Dispatch(Message{TagID: "9"}))

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Dispatched)
	assert.Equal(t, uint64(3), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Unrouted)
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, DropOldest, stats.DropPolicy)
}

func TestDispatcherLifecycle(t *testing.T) {
	r := NewRegistry(Options{})
	d := NewDispatcher(r, 1)

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrDispatcherRunning)

	d.Stop()
	d.Stop()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.ErrorIs(t, d.Publish(context.Background(), Message{TagID: "1"}), ErrDispatcherStopped)
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	r := NewRegistry(Options{})
	d := NewDispatcher(r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

func TestPublishRespectsContext(t *testing.T) {
	r := NewRegistry(Options{})
	d := NewDispatcher(r, 1) // not started

	require.NoError(t, d.Publish(context.Background(), Message{TagID: "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Publish(ctx, Message{TagID: "1"}), context.DeadlineExceeded)
}
