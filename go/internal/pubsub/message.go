package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is a single publication on a channel. It is immutable once published.
type Message struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	PublisherID string          `json:"publisher_id,omitempty"`
}

// NewMessage builds a message whose data is the JSON encoding of payload.
func NewMessage(name string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Name: name, Data: data}, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// stamp fills in the fields owned by the bus and detaches Data from the caller's buffer.
func (m Message) stamp(now time.Time, publisherID string) Message {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.PublisherID == "" {
		m.PublisherID = publisherID
	}
	if m.Data != nil {
		m.Data = append(json.RawMessage(nil), m.Data...)
	}
	return m
}

// Subscriber receives messages delivered on a channel.
type Subscriber interface {
	OnMessage(ctx context.Context, msg Message) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, msg Message) error

func (f SubscriberFunc) OnMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// StatusPayload is the data carried on the status channel.
type StatusPayload struct {
	Text string `json:"text"`
}

// TokenIssuer supplies transport credentials. Tokens are opaque to the core.
type TokenIssuer interface {
	IssueToken(ctx context.Context, clientID string) (token string, expiresAt time.Time, err error)
}
