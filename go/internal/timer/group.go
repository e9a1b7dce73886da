package timer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// DefaultGroupChannel is the channel group-level commands are published on.
const DefaultGroupChannel = "timer-group"

// Coordinator fans group commands out to timers. It holds no state beyond the
// channel names it targets.
type Coordinator struct {
	transport     pubsub.Transport
	groupChannel  string
	timerChannels []string
}

// NewCoordinator creates a coordinator for the given group channel and timer ids.
func NewCoordinator(transport pubsub.Transport, groupChannel string, timerIDs []string) *Coordinator {
	channels := make([]string, 0, len(timerIDs))
	for _, id := range timerIDs {
		channels = append(channels, ChannelName(id))
	}
	return &Coordinator{
		transport:     transport,
		groupChannel:  groupChannel,
		timerChannels: channels,
	}
}

// RunAll asks every group member to start its timers.
func (g *Coordinator) RunAll(ctx context.Context) error {
	return g.publishGroup(ctx, ActionRun)
}

// ResetAll asks every group member to reset its timers.
func (g *Coordinator) ResetAll(ctx context.Context) error {
	return g.publishGroup(ctx, ActionReset)
}

// StopAll publishes a stop command on every timer channel.
func (g *Coordinator) StopAll(ctx context.Context) error {
	return g.publishEach(ctx, ActionStop)
}

// ResumeAll publishes a resume command on every timer channel.
func (g *Coordinator) ResumeAll(ctx context.Context) error {
	return g.publishEach(ctx, ActionResume)
}

func (g *Coordinator) publishGroup(ctx context.Context, action Action) error {
	if err := g.transport.Publish(ctx, g.groupChannel, NewControlMessage(action)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", action, g.groupChannel, err)
	}
	return nil
}

// publishEach sends one message per timer channel. A failure on one channel
// does not stop the others.
func (g *Coordinator) publishEach(ctx context.Context, action Action) error {
	var errs []error
	for _, channel := range g.timerChannels {
		if err := g.transport.Publish(ctx, channel, NewControlMessage(action)); err != nil {
			log.Error().Err(err).Str("channel", channel).Str("action", string(action)).Msg("failed to publish timer command")
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", action, channel, err))
		}
	}
	return errors.Join(errs...)
}

// Member reacts to group commands on behalf of one client's local timers.
type Member struct {
	controllers []*Controller
	handle      pubsub.Handle
}

// NewMember creates a member for the given controllers.
func NewMember(controllers ...*Controller) *Member {
	return &Member{controllers: controllers}
}

// Attach subscribes the member to the group channel.
func (m *Member) Attach(transport pubsub.Transport, groupChannel string) error {
	h, err := transport.Subscribe(groupChannel, m)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", groupChannel, err)
	}
	m.handle = h
	return nil
}

// Detach unsubscribes from the group channel.
func (m *Member) Detach() {
	if m.handle != nil {
		m.handle.Unsubscribe()
		m.handle = nil
	}
}

// OnMessage applies a group command to every local timer directly.
func (m *Member) OnMessage(_ context.Context, msg pubsub.Message) error {
	action, ok := ParseControl(msg)
	if !ok {
		return nil
	}
	switch action {
	case ActionRun:
		for _, c := range m.controllers {
			c.Start()
		}
	case ActionReset:
		for _, c := range m.controllers {
			c.Reset()
		}
	}
	return nil
}

// GroupConfig describes the channels of a timer group.
type GroupConfig struct {
	GroupChannel string
	TimerIDs     []string
}

// DefaultGroupConfig returns the three-timer layout.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		GroupChannel: DefaultGroupChannel,
		TimerIDs:     []string{"1", "2", "3"},
	}
}

// Group bundles one client's timers: a controller per timer id, the group
// member that drives them, and a coordinator for issuing group commands.
type Group struct {
	*Coordinator
	Controllers []*Controller
	member      *Member
}

// NewGroup builds and attaches a timer group on transport.
func NewGroup(transport pubsub.Transport, gc GroupConfig, config Config, onChange func(id string, s State)) (*Group, error) {
	g := &Group{
		Coordinator: NewCoordinator(transport, gc.GroupChannel, gc.TimerIDs),
	}

	for _, id := range gc.TimerIDs {
		c := NewController(id, transport, config)
		if onChange != nil {
			c.OnChange(onChange)
		}
		if err := c.Attach(); err != nil {
			g.Close()
			return nil, err
		}
		g.Controllers = append(g.Controllers, c)
	}

	g.member = NewMember(g.Controllers...)
	if err := g.member.Attach(transport, gc.GroupChannel); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// Timer returns the controller with the given id, or nil.
func (g *Group) Timer(id string) *Controller {
	for _, c := range g.Controllers {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Close detaches the member and every controller.
func (g *Group) Close() {
	if g.member != nil {
		g.member.Detach()
	}
	for _, c := range g.Controllers {
		c.Detach()
	}
}
