package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS bridge
type NATSConfig struct {
	URL           string
	SubjectPrefix string // channels map to "<prefix>.<channel>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS bridge configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "relay.channels",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBridge mirrors channel publishes over core NATS subjects. Delivery is
// fire-and-forget, matching the bus: nothing is persisted or replayed.
type NATSBridge struct {
	link
	nc     *nats.Conn
	sub    *nats.Subscription
	config NATSConfig
	closed atomic.Bool
}

// NewNATSBridge connects to NATS and hooks into bus.
func NewNATSBridge(bus *pubsub.Bus, config NATSConfig) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("relay-" + bus.PublisherID()),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := &NATSBridge{
		link:   newLink(bus),
		nc:     nc,
		config: config,
	}
	bus.AddOutboundHook(b.forward)
	return b, nil
}

// Start subscribes to every relay subject and relays until ctx is cancelled
func (b *NATSBridge) Start(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.config.SubjectPrefix+".>", func(msg *nats.Msg) {
		if _, err := b.receive(msg.Data); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to relay NATS message")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s.>: %w", b.config.SubjectPrefix, err)
	}
	b.sub = sub

	log.Info().
		Str("url", b.nc.ConnectedUrl()).
		Str("subject_prefix", b.config.SubjectPrefix).
		Msg("NATS bridge started")

	<-ctx.Done()
	log.Info().Msg("NATS bridge shutting down")
	return b.Close()
}

func (b *NATSBridge) forward(_ context.Context, channel string, msg pubsub.Message) {
	if b.closed.Load() {
		return
	}
	data, err := b.encode(channel, msg)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to encode message for NATS")
		return
	}
	subject := SubjectFor(b.config.SubjectPrefix, channel)
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish to NATS")
	}
}

// Close drains the subscription and closes the NATS connection
func (b *NATSBridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe from NATS")
		}
	}
	b.nc.Close()
	return nil
}

func (b *NATSBridge) Check(context.Context) error {
	if b.closed.Load() || !b.nc.IsConnected() {
		return fmt.Errorf("%w: NATS status %s", ErrDisconnected, b.nc.Status())
	}
	return nil
}

// SubjectFor maps a channel name to a NATS subject. Characters NATS reserves
// inside a subject token are replaced with '_'; the envelope still carries the
// exact channel name.
func SubjectFor(prefix, channel string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, channel)
	return prefix + "." + token
}
