package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the message bus.
type Config struct {
	MailboxSize int
	// PublisherID stamps messages that arrive without one. Defaults to a random id.
	PublisherID string
	Clock       clockwork.Clock
}

// DefaultConfig returns default bus configuration.
func DefaultConfig() Config {
	return Config{
		MailboxSize: DefaultMailboxSize,
		Clock:       clockwork.NewRealClock(),
	}
}

// OutboundHook observes every message published through this bus (but not
// messages injected with DeliverRemote). Bridges use it to mirror publishes to
// other relay processes.
type OutboundHook func(ctx context.Context, channel string, msg Message)

// Bus delivers published messages to every subscription currently attached to
// a channel.
type Bus struct {
	registry    *Registry
	clock       clockwork.Clock
	publisherID string
	closed      atomic.Bool

	hooksMu sync.RWMutex
	hooks   []OutboundHook

	published atomic.Uint64
	fannedOut atomic.Uint64
}

// NewBus creates a new message bus.
func NewBus(config Config) *Bus {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.PublisherID == "" {
		config.PublisherID = uuid.New().String()[:8]
	}
	return &Bus{
		registry:    NewRegistry(config.MailboxSize),
		clock:       config.Clock,
		publisherID: config.PublisherID,
	}
}

// Registry exposes the channel registry backing the bus.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// PublisherID is the id stamped on messages published without one.
func (b *Bus) PublisherID() string {
	return b.publisherID
}

// AddOutboundHook registers fn to observe local publishes.
func (b *Bus) AddOutboundHook(fn OutboundHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Subscribe attaches sub to channel.
func (b *Bus) Subscribe(channel string, sub Subscriber) (Handle, error) {
	if b.closed.Load() {
		return nil, ErrTransportUnavailable
	}
	s, err := b.registry.Subscribe(channel, sub)
	if err != nil {
		return nil, err
	}
	// Close may have swept the registry between the check above and now.
	if b.closed.Load() {
		b.registry.Unsubscribe(s)
		return nil, ErrTransportUnavailable
	}
	return s, nil
}

// Unsubscribe detaches a handle previously returned by Subscribe.
func (b *Bus) Unsubscribe(h Handle) {
	if h != nil {
		h.Unsubscribe()
	}
}

// Publish delivers msg to every subscriber of channel. The message is queued
// for every subscriber before Publish returns, so sequential publishes from
// one caller are observed in the same order by every subscriber. Publishing
// to a channel without subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, channel string, msg Message) error {
	if b.closed.Load() {
		return ErrTransportUnavailable
	}
	if channel == "" {
		return ErrEmptyChannel
	}

	msg = msg.stamp(b.clock.Now(), b.publisherID)
	b.fanOut(channel, msg)

	b.hooksMu.RLock()
	hooks := b.hooks
	b.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, channel, msg)
	}
	return nil
}

// AcceptExternalPublish is the entry point for server-side publishers such as
// the HTTP publish endpoint. It has exactly the semantics of Publish.
func (b *Bus) AcceptExternalPublish(ctx context.Context, channel, name string, payload json.RawMessage) error {
	return b.Publish(ctx, channel, Message{Name: name, Data: payload})
}

// DeliverRemote delivers a message that was published on another relay
// process. Outbound hooks are skipped so the message is not mirrored back.
func (b *Bus) DeliverRemote(channel string, msg Message) error {
	if b.closed.Load() {
		return ErrTransportUnavailable
	}
	if channel == "" {
		return ErrEmptyChannel
	}
	b.fanOut(channel, msg.stamp(b.clock.Now(), msg.PublisherID))
	return nil
}

func (b *Bus) fanOut(channel string, msg Message) {
	// Snapshot so handles detached during delivery are neither delivered to
	// nor able to break the loop.
	targets := b.registry.Snapshot(channel)
	b.published.Add(1)

	queued := 0
	for _, s := range targets {
		if s.enqueue(msg) {
			queued++
		}
	}
	b.fannedOut.Add(uint64(queued))

	log.Debug().
		Str("channel", channel).
		Str("message_id", msg.ID).
		Str("event_name", msg.Name).
		Int("subscribers", queued).
		Msg("message published")
}

// Close detaches every subscription. Later publishes and subscribes fail with
// ErrTransportUnavailable.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.registry.closeAll()
	log.Info().Msg("message bus closed")
	return nil
}

// Stats returns statistics about the bus.
func (b *Bus) Stats() map[string]interface{} {
	stats := b.registry.Stats()
	stats["messages_published"] = b.published.Load()
	stats["deliveries_queued"] = b.fannedOut.Load()
	stats["publisher_id"] = b.publisherID
	return stats
}
