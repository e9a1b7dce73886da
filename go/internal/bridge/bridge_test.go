package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []pubsub.Message
}

func (i *inbox) OnMessage(_ context.Context, msg pubsub.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) messages() []pubsub.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]pubsub.Message(nil), i.msgs...)
}

func newBus(t *testing.T, id string) *pubsub.Bus {
	t.Helper()
	cfg := pubsub.DefaultConfig()
	cfg.PublisherID = id
	bus := pubsub.NewBus(cfg)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// pipe wires a's outbound hook straight into b's link.
func pipe(t *testing.T, a, b *pubsub.Bus) {
	t.Helper()
	from, to := newLink(a), newLink(b)
	a.AddOutboundHook(func(_ context.Context, channel string, msg pubsub.Message) {
		data, err := from.encode(channel, msg)
		require.NoError(t, err)
		_, err = to.receive(data)
		require.NoError(t, err)
	})
}

func TestLink_RelaysBetweenBuses(t *testing.T) {
	a, b := newBus(t, "node-a"), newBus(t, "node-b")
	pipe(t, a, b)

	got := &inbox{}
	_, err := b.Subscribe("status-updates", got)
	require.NoError(t, err)

	msg, err := pubsub.NewMessage("update-from-server", pubsub.StatusPayload{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, a.Publish(context.Background(), "status-updates", msg))

	require.Eventually(t, func() bool { return len(got.messages()) == 1 }, time.Second, 5*time.Millisecond)
	relayed := got.messages()[0]
	assert.Equal(t, "update-from-server", relayed.Name)
	assert.Equal(t, "node-a", relayed.PublisherID)
	assert.JSONEq(t, `{"text":"hello"}`, string(relayed.Data))
}

func TestLink_RemoteDeliveryIsNotForwardedAgain(t *testing.T) {
	a, b := newBus(t, "node-a"), newBus(t, "node-b")
	pipe(t, a, b)

	var forwarded int
	var mu sync.Mutex
	b.AddOutboundHook(func(context.Context, string, pubsub.Message) {
		mu.Lock()
		forwarded++
		mu.Unlock()
	})

	got := &inbox{}
	_, err := b.Subscribe("c", got)
	require.NoError(t, err)

	msg, err := pubsub.NewMessage("n", nil)
	require.NoError(t, err)
	require.NoError(t, a.Publish(context.Background(), "c", msg))

	require.Eventually(t, func() bool { return len(got.messages()) == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, forwarded)
}

func TestLink_IgnoresOwnEcho(t *testing.T) {
	bus := newBus(t, "node-a")
	l := newLink(bus)

	got := &inbox{}
	_, err := bus.Subscribe("c", got)
	require.NoError(t, err)

	data, err := l.encode("c", pubsub.Message{ID: "m1", Name: "n"})
	require.NoError(t, err)

	delivered, err := l.receive(data)
	require.NoError(t, err)
	assert.False(t, delivered)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.messages())
}

func TestLink_RejectsBadEnvelopes(t *testing.T) {
	l := newLink(newBus(t, "node-a"))

	_, err := l.receive([]byte("{"))
	assert.Error(t, err)

	data, err := json.Marshal(Envelope{Origin: "node-b"})
	require.NoError(t, err)
	_, err = l.receive(data)
	assert.ErrorIs(t, err, ErrMissingChannel)
}

func TestLink_ChannelWithoutSubscribersIsDropped(t *testing.T) {
	bus := newBus(t, "node-a")
	l := newLink(bus)

	data, err := json.Marshal(Envelope{Origin: "node-b", Channel: "nobody", Message: pubsub.Message{ID: "m1"}})
	require.NoError(t, err)

	delivered, err := l.receive(data)
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.NotContains(t, bus.Registry().Channels(), "nobody")
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"status-updates", "relay.channels.status-updates"},
		{"timer-1", "relay.channels.timer-1"},
		{"a.b", "relay.channels.a_b"},
		{"x y*>", "relay.channels.x_y__"},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectFor("relay.channels", tt.channel))
		})
	}
}

func TestPostgresBridge_EncodeNotifyLimit(t *testing.T) {
	b := &PostgresBridge{link: newLink(newBus(t, "node-a"))}

	payload, err := b.encodeNotify("c", pubsub.Message{ID: "m1", Data: json.RawMessage(`"small"`)})
	require.NoError(t, err)
	assert.Less(t, len(payload), MaxNotifyPayload)

	big, err := json.Marshal(strings.Repeat("x", MaxNotifyPayload))
	require.NoError(t, err)
	_, err = b.encodeNotify("c", pubsub.Message{ID: "m2", Data: big})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
