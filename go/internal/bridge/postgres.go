package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// MaxNotifyPayload is the largest payload Postgres accepts for NOTIFY.
const MaxNotifyPayload = 8000

var ErrPayloadTooLarge = errors.New("envelope exceeds NOTIFY payload limit")

type PostgresConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
	QueueSize     int // Outbound envelopes buffered ahead of pg_notify
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		DatabaseURL:   "",
		NotifyChannel: "relay_messages",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
		QueueSize:     1024,
	}
}

// PostgresBridge mirrors channel publishes through LISTEN/NOTIFY. Notifications
// are received with a pq.Listener and sent through a pgx pool.
type PostgresBridge struct {
	link
	pool     *pgxpool.Pool
	listener *pq.Listener
	outbound chan []byte
	cfg      PostgresConfig

	mu     sync.RWMutex
	closed bool
}

func NewPostgresBridge(ctx context.Context, bus *pubsub.Bus, cfg PostgresConfig) (*PostgresBridge, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	b := &PostgresBridge{
		link:     newLink(bus),
		pool:     pool,
		listener: l,
		outbound: make(chan []byte, cfg.QueueSize),
		cfg:      cfg,
	}
	bus.AddOutboundHook(b.forward)
	return b, nil
}

func (b *PostgresBridge) Start(ctx context.Context) error {
	log.Info().
		Str("channel", b.cfg.NotifyChannel).
		Dur("ping_interval", b.cfg.PingInterval).
		Msg("postgres bridge started")

	pingTicker := time.NewTicker(b.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("postgres bridge shutting down")
			return b.Close()
		case note := <-b.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			if _, err := b.receive([]byte(note.Extra)); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case payload := <-b.outbound:
			if err := b.notify(ctx, payload); err != nil {
				log.Error().Err(err).Msg("failed to send notification")
			}
		case <-pingTicker.C:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *PostgresBridge) notify(ctx context.Context, payload []byte) error {
	_, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.cfg.NotifyChannel, string(payload))
	return err
}

// forward queues a local publish for pg_notify. It never blocks the publisher;
// when the queue is full the envelope is dropped.
func (b *PostgresBridge) forward(_ context.Context, channel string, msg pubsub.Message) {
	payload, err := b.encodeNotify(channel, msg)
	if err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("message not bridged")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.outbound <- payload:
	default:
		log.Warn().Str("channel", channel).Msg("postgres bridge queue full, dropping message")
	}
}

func (b *PostgresBridge) encodeNotify(channel string, msg pubsub.Message) ([]byte, error) {
	payload, err := b.encode(channel, msg)
	if err != nil {
		return nil, err
	}
	if len(payload) >= MaxNotifyPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	return payload, nil
}

func (b *PostgresBridge) Check(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrDisconnected
	}
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (b *PostgresBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.listener.Close()
	b.pool.Close()
	return err
}
