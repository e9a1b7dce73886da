package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// DefaultQuantum is the tick interval of a running timer.
const DefaultQuantum = 10 * time.Millisecond

// Config holds configuration for timer controllers.
type Config struct {
	Quantum time.Duration
	// CorrectDrift makes each tick apply as many quanta as the clock says have
	// passed since the previous tick, instead of exactly one.
	CorrectDrift bool
	Clock        clockwork.Clock
}

// DefaultConfig returns default controller configuration.
func DefaultConfig() Config {
	return Config{
		Quantum: DefaultQuantum,
		Clock:   clockwork.NewRealClock(),
	}
}

// ChannelName returns the control channel of the timer with the given id.
func ChannelName(id string) string {
	return "timer-" + id
}

// Controller owns the state machine of one timer. Local user actions and
// control messages received on the timer's channel both end up in apply, so
// the state machine cannot tell them apart.
type Controller struct {
	id        string
	channel   string
	transport pubsub.Transport
	config    Config

	mu         sync.Mutex
	state      State
	ticker     clockwork.Ticker
	tickDone   chan struct{}
	generation uint64
	lastTick   time.Time
	seq        uint64 // bumped under mu on every state change

	handle   pubsub.Handle
	onChange func(id string, s State)

	notifyMu sync.Mutex
	notified uint64
}

// NewController creates a controller for timer id that talks over transport.
// Call Attach to start listening on the timer's channel.
func NewController(id string, transport pubsub.Transport, config Config) *Controller {
	if config.Quantum <= 0 {
		config.Quantum = DefaultQuantum
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		id:        id,
		channel:   ChannelName(id),
		transport: transport,
		config:    config,
	}
}

// ID returns the timer id.
func (c *Controller) ID() string {
	return c.id
}

// Channel returns the timer's control channel.
func (c *Controller) Channel() string {
	return c.channel
}

// OnChange registers fn to be called after every state change, including ticks.
// Calls are serialised and never go backwards: a state older than one already
// delivered is skipped. fn must not call back into the controller. It must be
// set before Attach or Start.
func (c *Controller) OnChange(fn func(id string, s State)) {
	c.onChange = fn
}

// Attach subscribes the controller to its own channel.
func (c *Controller) Attach() error {
	h, err := c.transport.Subscribe(c.channel, c)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.channel, err)
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	return nil
}

// Detach unsubscribes from the timer channel and cancels any tick source.
// Elapsed time is kept.
func (c *Controller) Detach() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.stopTickingLocked()
	stopped := c.state.Status == StatusRunning
	var seq uint64
	if stopped {
		c.state.Status = StatusStopped
		seq = c.nextSeqLocked()
	}
	s := c.state
	c.mu.Unlock()

	if h != nil {
		h.Unsubscribe()
	}
	if stopped {
		c.notify(s, seq)
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage applies a control message received on the timer channel.
// Unrecognised messages are ignored.
func (c *Controller) OnMessage(_ context.Context, msg pubsub.Message) error {
	action, ok := ParseControl(msg)
	if !ok || action == ActionRun {
		log.Debug().
			Str("timer_id", c.id).
			Str("message_id", msg.ID).
			Str("data", string(msg.Data)).
			Msg("ignoring unrecognised control message")
		return nil
	}
	c.apply(action)
	return nil
}

// Start begins counting from zero if the timer has not been started. It is
// purely local and publishes nothing.
func (c *Controller) Start() bool {
	return c.apply(ActionRun)
}

// Reset returns the timer to NotStarted with zero elapsed time, locally.
func (c *Controller) Reset() bool {
	return c.apply(ActionReset)
}

// RequestStop publishes a stop command on the timer's own channel. The
// transition happens when the controller receives its own message, the same
// way every other subscriber of the channel applies it.
func (c *Controller) RequestStop(ctx context.Context) error {
	return c.request(ctx, ActionStop)
}

// RequestResume publishes a resume command on the timer's own channel.
func (c *Controller) RequestResume(ctx context.Context) error {
	return c.request(ctx, ActionResume)
}

// RequestReset publishes a reset command on the timer's own channel.
func (c *Controller) RequestReset(ctx context.Context) error {
	return c.request(ctx, ActionReset)
}

func (c *Controller) request(ctx context.Context, action Action) error {
	if err := c.transport.Publish(ctx, c.channel, NewControlMessage(action)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", action, c.channel, err)
	}
	return nil
}

// apply is the single transition function. It reports whether the state changed.
func (c *Controller) apply(action Action) bool {
	c.mu.Lock()
	from := c.state
	switch {
	case action == ActionRun && from.Status == StatusNotStarted:
		c.state = State{Status: StatusRunning}
		c.startTickingLocked()
	case action == ActionStop && from.Status == StatusRunning:
		c.stopTickingLocked()
		c.state.Status = StatusStopped
	case action == ActionResume && from.Status == StatusStopped:
		c.state.Status = StatusRunning
		c.startTickingLocked()
	case action == ActionReset:
		c.stopTickingLocked()
		c.state = State{Status: StatusNotStarted}
	default:
		c.mu.Unlock()
		log.Debug().
			Str("timer_id", c.id).
			Str("action", string(action)).
			Str("status", from.Status.String()).
			Msg("control action has no effect in current state")
		return false
	}
	to := c.state
	var seq uint64
	if from != to {
		seq = c.nextSeqLocked()
	}
	c.mu.Unlock()

	log.Debug().
		Str("timer_id", c.id).
		Str("action", string(action)).
		Str("from", from.Status.String()).
		Str("to", to.Status.String()).
		Msg("timer transition")

	if from != to {
		c.notify(to, seq)
	}
	return from != to
}

// startTickingLocked starts a fresh tick source. Callers hold c.mu.
func (c *Controller) startTickingLocked() {
	c.stopTickingLocked()

	c.generation++
	c.ticker = c.config.Clock.NewTicker(c.config.Quantum)
	c.tickDone = make(chan struct{})
	c.lastTick = c.config.Clock.Now()

	go c.tickLoop(c.generation, c.ticker, c.tickDone)
}

// stopTickingLocked cancels the tick source. Bumping the generation under the
// lock guarantees no tick already in flight applies afterwards.
func (c *Controller) stopTickingLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.tickDone)
	c.ticker = nil
	c.tickDone = nil
	c.generation++
}

func (c *Controller) tickLoop(gen uint64, ticker clockwork.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if !c.tick(gen) {
				return
			}
		}
	}
}

// tick applies one tick for tick source gen. It returns false once gen is stale.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()
	if gen != c.generation || c.state.Status != StatusRunning {
		c.mu.Unlock()
		return false
	}

	n := 1
	now := c.config.Clock.Now()
	if c.config.CorrectDrift {
		n = int(now.Sub(c.lastTick) / c.config.Quantum)
		c.lastTick = c.lastTick.Add(time.Duration(n) * c.config.Quantum)
	} else {
		c.lastTick = now
	}
	if n == 0 {
		c.mu.Unlock()
		return true
	}
	c.state.Elapsed = c.state.Elapsed.Advance(n)
	s := c.state
	seq := c.nextSeqLocked()
	c.mu.Unlock()

	c.notify(s, seq)
	return true
}

func (c *Controller) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

// notify hands s to the observer unless a later state has been delivered
// already. A tick racing a reset therefore cannot leave the observer on the
// older Running state.
func (c *Controller) notify(s State, seq uint64) {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notified {
		return
	}
	c.notified = seq
	c.onChange(c.id, s)
}
