// Package bridge mirrors channel publishes between relay processes so that
// subscribers attached to different processes see the same channels.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingChannel = errors.New("envelope has no channel")
	ErrDisconnected   = errors.New("bridge backend disconnected")
)

// Bridge connects a local bus to other relay processes.
type Bridge interface {
	// Start relays messages until ctx is cancelled.
	Start(ctx context.Context) error
	// Check reports whether the bridge can currently reach its backend.
	Check(ctx context.Context) error
	Close() error
}

// Envelope is the wire format exchanged between relay processes.
type Envelope struct {
	Origin  string         `json:"origin"`
	Channel string         `json:"channel"`
	Message pubsub.Message `json:"message"`
}

// link is the backend-independent half of a bridge: it encodes local
// publishes and feeds remote ones into the bus, ignoring its own echoes.
type link struct {
	bus    *pubsub.Bus
	nodeID string
}

func newLink(bus *pubsub.Bus) link {
	return link{bus: bus, nodeID: bus.PublisherID()}
}

func (l link) encode(channel string, msg pubsub.Message) ([]byte, error) {
	data, err := json.Marshal(Envelope{Origin: l.nodeID, Channel: channel, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// receive delivers an envelope published by another process. It reports
// whether the envelope was delivered (false for our own echoes).
func (l link) receive(data []byte) (bool, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Origin == l.nodeID {
		return false, nil
	}
	if env.Channel == "" {
		return false, ErrMissingChannel
	}

	if err := l.bus.DeliverRemote(env.Channel, env.Message); err != nil {
		return false, fmt.Errorf("deliver remote message: %w", err)
	}

	log.Debug().
		Str("origin", env.Origin).
		Str("channel", env.Channel).
		Str("message_id", env.Message.ID).
		Msg("remote message relayed")
	return true, nil
}
