package gateway

import (
	"encoding/json"

	"github.com/mcdev12/relay/go/internal/pubsub"
)

// FrameType identifies a WebSocket frame.
type FrameType string

const (
	// Client → server
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePublish     FrameType = "publish"

	// Server → client
	FrameMessage FrameType = "message"
	FrameAck     FrameType = "ack"
	FrameError   FrameType = "error"
)

// ClientFrame is a frame sent by a WebSocket client.
type ClientFrame struct {
	Type      FrameType       `json:"type"`
	Channel   string          `json:"channel"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// ServerFrame is a frame sent to a WebSocket client.
type ServerFrame struct {
	Type      FrameType       `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Message   *pubsub.Message `json:"message,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}
