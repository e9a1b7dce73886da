package pubsub

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultMailboxSize is the number of undelivered messages a subscription
// buffers before further messages are dropped for it.
const DefaultMailboxSize = 256

// Channel is a named topic and its current set of subscriptions.
type Channel struct {
	name string
	subs map[*Subscription]struct{}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Registry owns the set of named channels and their subscriber lists.
type Registry struct {
	channels    map[string]*Channel
	mu          sync.RWMutex
	mailboxSize int
}

// NewRegistry creates an empty registry. A non-positive mailboxSize selects
// DefaultMailboxSize.
func NewRegistry(mailboxSize int) *Registry {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Registry{
		channels:    make(map[string]*Channel),
		mailboxSize: mailboxSize,
	}
}

// GetOrCreate returns the named channel, creating it if needed. A channel that
// never gains a subscriber is reclaimed by the next Snapshot, Channels or Stats.
func (r *Registry) GetOrCreate(name string) (*Channel, error) {
	if name == "" {
		return nil, ErrEmptyChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(name), nil
}

func (r *Registry) getOrCreateLocked(name string) *Channel {
	ch, exists := r.channels[name]
	if !exists {
		ch = &Channel{name: name, subs: make(map[*Subscription]struct{})}
		r.channels[name] = ch
	}
	return ch
}

// Subscribe attaches sub to the named channel and returns the handle that owns
// the attachment.
func (r *Registry) Subscribe(name string, sub Subscriber) (*Subscription, error) {
	if name == "" {
		return nil, ErrEmptyChannel
	}
	if sub == nil {
		return nil, ErrInvalidSubscriber
	}

	s := newSubscription(r, name, sub, r.mailboxSize)

	r.mu.Lock()
	ch := r.getOrCreateLocked(name)
	ch.subs[s] = struct{}{}
	total := len(ch.subs)
	r.mu.Unlock()

	log.Debug().
		Str("subscription_id", s.ID).
		Str("channel", name).
		Int("total_subscriptions", total).
		Msg("subscription registered")

	return s, nil
}

// Unsubscribe detaches s. The channel is reclaimed when its last subscription
// leaves.
func (r *Registry) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	if !s.deactivate() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, exists := r.channels[s.channel]; exists {
		delete(ch.subs, s)
		if len(ch.subs) == 0 {
			delete(r.channels, s.channel)
		}
	}

	log.Debug().
		Str("subscription_id", s.ID).
		Str("channel", s.channel).
		Msg("subscription unregistered")
}

// Snapshot returns the subscriptions attached to the channel right now.
func (r *Registry) Snapshot(name string) []*Subscription {
	r.mu.RLock()
	ch, exists := r.channels[name]
	if !exists {
		r.mu.RUnlock()
		return nil
	}
	subs := make([]*Subscription, 0, len(ch.subs))
	for s := range ch.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.reclaim(name)
		return nil
	}
	return subs
}

// reclaim drops the named channel if it still has no subscriptions.
func (r *Registry) reclaim(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, exists := r.channels[name]; exists && len(ch.subs) == 0 {
		delete(r.channels, name)
	}
}

func (r *Registry) reclaimAllLocked() {
	for name, ch := range r.channels {
		if len(ch.subs) == 0 {
			delete(r.channels, name)
		}
	}
}

// Channels lists the names of all live channels in sorted order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimAllLocked()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns statistics about live channels and subscriptions.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reclaimAllLocked()

	total := 0
	counts := make(map[string]int, len(r.channels))
	for name, ch := range r.channels {
		total += len(ch.subs)
		counts[name] = len(ch.subs)
	}

	return map[string]interface{}{
		"total_subscriptions":   total,
		"active_channels":       len(r.channels),
		"channel_subscriptions": counts,
	}
}

// closeAll detaches every subscription.
func (r *Registry) closeAll() {
	r.mu.Lock()
	var all []*Subscription
	for _, ch := range r.channels {
		for s := range ch.subs {
			all = append(all, s)
		}
	}
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, s := range all {
		s.deactivate()
	}
}
