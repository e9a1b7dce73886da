package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handle is the caller-owned side of a subscription.
type Handle interface {
	Channel() string
	Unsubscribe()
}

// Transport is anything that can publish to and subscribe on named channels:
// the in-process Bus or a remote client connection.
type Transport interface {
	Publish(ctx context.Context, channel string, msg Message) error
	Subscribe(channel string, sub Subscriber) (Handle, error)
}

// Subscription is a per-subscriber-per-channel handle. Messages are queued in
// its mailbox and handed to the subscriber on the subscription's own goroutine,
// so a slow or failing subscriber never holds up anybody else.
type Subscription struct {
	ID         string
	channel    string
	subscriber Subscriber
	registry   *Registry

	active  atomic.Bool
	mailbox chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// SubscriptionStats is a point-in-time view of a subscription's counters.
type SubscriptionStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

func newSubscription(r *Registry, channel string, sub Subscriber, mailboxSize int) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		ID:         uuid.New().String(),
		channel:    channel,
		subscriber: sub,
		registry:   r,
		mailbox:    make(chan Message, mailboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.active.Store(true)
	go s.run()
	return s
}

// Channel returns the name of the channel this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Active reports whether the subscription still accepts deliveries.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Unsubscribe detaches the subscription from its channel. It is safe to call
// more than once and from inside the subscriber's own callback.
func (s *Subscription) Unsubscribe() {
	s.registry.Unsubscribe(s)
}

// Done is closed once the subscription has been detached.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stats returns the delivery counters for this subscription.
func (s *Subscription) Stats() SubscriptionStats {
	return SubscriptionStats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

// enqueue hands msg to the delivery goroutine. It never blocks the publisher.
func (s *Subscription) enqueue(msg Message) bool {
	if !s.active.Load() {
		return false
	}
	select {
	case s.mailbox <- msg:
		return true
	default:
		s.dropped.Add(1)
		log.Warn().
			Str("subscription_id", s.ID).
			Str("channel", s.channel).
			Str("message_id", msg.ID).
			Msg("subscription mailbox full, dropping message")
		return false
	}
}

// deactivate marks the subscription inactive and stops its delivery goroutine.
// Once it returns no new delivery will start.
func (s *Subscription) deactivate() bool {
	first := false
	s.once.Do(func() {
		first = true
		s.active.Store(false)
		s.cancel()
		close(s.done)
	})
	return first
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.mailbox:
			// Re-check: the handle may have been detached while msg sat in the mailbox.
			if !s.active.Load() {
				return
			}
			s.deliver(msg)
		}
	}
}

func (s *Subscription) deliver(msg Message) {
	if err := s.invoke(msg); err != nil {
		s.failed.Add(1)
		log.Error().
			Err(err).
			Str("subscription_id", s.ID).
			Str("channel", s.channel).
			Str("message_id", msg.ID).
			Str("event_name", msg.Name).
			Msg("subscriber failed to handle message")
		return
	}
	s.delivered.Add(1)
}

func (s *Subscription) invoke(msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.subscriber.OnMessage(s.ctx, msg)
}
