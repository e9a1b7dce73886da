package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroup(t *testing.T) (*Group, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	bus := pubsub.NewBus(pubsub.Config{Clock: clock})
	t.Cleanup(func() { _ = bus.Close() })

	g, err := NewGroup(bus, DefaultGroupConfig(), Config{Clock: clock}, nil)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g, clock
}

func TestGroup_ResetAllFromMixedStates(t *testing.T) {
	g, clock := newTestGroup(t)
	t1, t2, t3 := g.Timer("1"), g.Timer("2"), g.Timer("3")
	require.NotNil(t, t1)

	t1.Start()
	t2.Start()
	advanceTicks(t, clock, t1, 3)
	require.NoError(t, t2.RequestStop(context.Background()))
	waitStatus(t, t2, StatusStopped)
	t3.Start()
	advanceTicks(t, clock, t3, 1)

	require.NoError(t, g.ResetAll(context.Background()))

	for _, c := range []*Controller{t1, t2, t3} {
		c := c
		require.Eventually(t, func() bool {
			return c.Snapshot() == State{Status: StatusNotStarted}
		}, waitFor, time.Millisecond, "timer %s", c.ID())
	}
}

func TestGroup_RunAllStartsOnlyIdleTimers(t *testing.T) {
	g, clock := newTestGroup(t)
	t1, t2 := g.Timer("1"), g.Timer("2")

	t2.Start()
	advanceTicks(t, clock, t2, 2)
	require.NoError(t, t2.RequestStop(context.Background()))
	waitStatus(t, t2, StatusStopped)

	require.NoError(t, g.RunAll(context.Background()))
	waitStatus(t, t1, StatusRunning)
	waitStatus(t, g.Timer("3"), StatusRunning)

	// A stopped timer is not restarted by run.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, State{Status: StatusStopped, Elapsed: Elapsed{Ms: 2}}, t2.Snapshot())
}

func TestGroup_StopAllAndResumeAll(t *testing.T) {
	g, _ := newTestGroup(t)

	require.NoError(t, g.RunAll(context.Background()))
	for _, c := range g.Controllers {
		waitStatus(t, c, StatusRunning)
	}

	require.NoError(t, g.StopAll(context.Background()))
	for _, c := range g.Controllers {
		waitStatus(t, c, StatusStopped)
	}

	require.NoError(t, g.ResumeAll(context.Background()))
	for _, c := range g.Controllers {
		waitStatus(t, c, StatusRunning)
	}
}

func TestGroup_MembersOnSeparateClientsStayInSync(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := pubsub.NewBus(pubsub.Config{Clock: clock})
	defer bus.Close()

	alice, err := NewGroup(bus, DefaultGroupConfig(), Config{Clock: clock}, nil)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := NewGroup(bus, DefaultGroupConfig(), Config{Clock: clock}, nil)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, alice.RunAll(context.Background()))
	for _, c := range append(alice.Controllers, bob.Controllers...) {
		waitStatus(t, c, StatusRunning)
	}

	require.NoError(t, bob.Timer("2").RequestStop(context.Background()))
	waitStatus(t, alice.Timer("2"), StatusStopped)
	waitStatus(t, bob.Timer("2"), StatusStopped)
	assert.Equal(t, StatusRunning, alice.Timer("1").Snapshot().Status)
}

type flakyTransport struct {
	mu        sync.Mutex
	failOn    string
	published []string
}

func (f *flakyTransport) Publish(_ context.Context, channel string, _ pubsub.Message) error {
	if channel == f.failOn {
		return pubsub.ErrTransportUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel)
	return nil
}

func (f *flakyTransport) Subscribe(string, pubsub.Subscriber) (pubsub.Handle, error) {
	return nil, errors.New("not supported")
}

func TestCoordinator_FanOutIsNotAtomic(t *testing.T) {
	tr := &flakyTransport{failOn: "timer-2"}
	g := NewCoordinator(tr, DefaultGroupChannel, []string{"1", "2", "3"})

	err := g.StopAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pubsub.ErrTransportUnavailable)
	assert.Equal(t, []string{"timer-1", "timer-3"}, tr.published)
}

func TestNewGroup_FailsWhenTransportRejectsSubscribe(t *testing.T) {
	_, err := NewGroup(&flakyTransport{}, DefaultGroupConfig(), DefaultConfig(), nil)
	assert.Error(t, err)
}
