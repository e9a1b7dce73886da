package pubsub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopSubscriber() Subscriber {
	return SubscriberFunc(func(context.Context, Message) error { return nil })
}

func TestRegistry_ChannelLifecycle(t *testing.T) {
	r := NewRegistry(0)

	a, err := r.Subscribe("timer-1", nopSubscriber())
	require.NoError(t, err)
	b, err := r.Subscribe("timer-1", nopSubscriber())
	require.NoError(t, err)

	assert.Equal(t, []string{"timer-1"}, r.Channels())
	assert.Len(t, r.Snapshot("timer-1"), 2)

	r.Unsubscribe(a)
	assert.Len(t, r.Snapshot("timer-1"), 1)

	// Second unsubscribe of the same handle is harmless.
	r.Unsubscribe(a)
	assert.Len(t, r.Snapshot("timer-1"), 1)

	b.Unsubscribe()
	assert.Empty(t, r.Channels())
	assert.Nil(t, r.Snapshot("timer-1"))

	_, err = r.Subscribe("timer-1", nopSubscriber())
	require.NoError(t, err)
	assert.Equal(t, []string{"timer-1"}, r.Channels())
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(0)

	ch, err := r.GetOrCreate("status-updates")
	require.NoError(t, err)
	assert.Equal(t, "status-updates", ch.Name())

	again, err := r.GetOrCreate("status-updates")
	require.NoError(t, err)
	assert.Same(t, ch, again)

	_, err = r.GetOrCreate("")
	assert.ErrorIs(t, err, ErrEmptyChannel)
}

func TestRegistry_RejectsInvalidArguments(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Subscribe("", nopSubscriber())
	assert.ErrorIs(t, err, ErrEmptyChannel)

	_, err = r.Subscribe("timer-1", nil)
	assert.ErrorIs(t, err, ErrInvalidSubscriber)
}

func TestRegistry_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	r := NewRegistry(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Subscribe("timer-group", nopSubscriber())
			if err != nil {
				return
			}
			_ = r.Snapshot("timer-group")
			r.Unsubscribe(s)
		}()
	}
	wg.Wait()

	assert.Empty(t, r.Channels())
	stats := r.Stats()
	assert.Equal(t, 0, stats["total_subscriptions"])
	assert.Equal(t, 0, stats["active_channels"])
}

func TestRegistry_SnapshotExcludesDetachedHandles(t *testing.T) {
	r := NewRegistry(0)
	s, err := r.Subscribe("timer-2", nopSubscriber())
	require.NoError(t, err)

	snap := r.Snapshot("timer-2")
	require.Len(t, snap, 1)

	s.Unsubscribe()
	assert.False(t, snap[0].enqueue(Message{Name: "late"}))
}

func TestRegistry_UnusedChannelIsReclaimed(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.GetOrCreate("idle")
	require.NoError(t, err)
	assert.Nil(t, r.Snapshot("idle"))
	assert.Empty(t, r.Channels())

	_, err = r.GetOrCreate("also-idle")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Stats()["active_channels"])

	_, err = r.Subscribe("idle", nopSubscriber())
	require.NoError(t, err)
	assert.Equal(t, []string{"idle"}, r.Channels())
	assert.Len(t, r.Snapshot("idle"), 1)
}
