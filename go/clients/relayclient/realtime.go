package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/relay/go/internal/gateway"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

var ErrRequestRejected = errors.New("request rejected by gateway")

// RealtimeConfig holds configuration for a WebSocket connection to the gateway.
type RealtimeConfig struct {
	URL            string // e.g. ws://localhost:8080/ws
	Token          string
	ClientID       string // only used by gateways without token auth
	RequestTimeout time.Duration
	MailboxSize    int
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		URL:            "ws://localhost:8080/ws",
		RequestTimeout: 5 * time.Second,
		MailboxSize:    pubsub.DefaultMailboxSize,
	}
}

// Realtime is a pubsub.Transport backed by a gateway WebSocket. Received
// messages are fanned out to local subscribers through a private bus, so each
// subscriber gets its own ordered mailbox. Once the connection drops every
// operation fails with pubsub.ErrTransportUnavailable.
type Realtime struct {
	conn   *websocket.Conn
	local  *pubsub.Bus
	config RealtimeConfig

	writeMu sync.Mutex

	// subscribeMu serialises subscribe/unsubscribe frames with refs.
	subscribeMu sync.Mutex
	refs        map[string]int

	pendingMu sync.Mutex
	pending   map[string]chan gateway.ServerFrame
	nextID    atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway.
func Dial(ctx context.Context, config RealtimeConfig) (*Realtime, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	if config.ClientID != "" {
		q.Set("client_id", config.ClientID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if config.Token != "" {
		header.Set("Authorization", "Bearer "+config.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to gateway (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	rt := &Realtime{
		conn:    conn,
		local:   pubsub.NewBus(pubsub.Config{MailboxSize: config.MailboxSize}),
		config:  config,
		refs:    make(map[string]int),
		pending: make(map[string]chan gateway.ServerFrame),
		done:    make(chan struct{}),
	}
	go rt.readLoop()

	log.Info().Str("url", config.URL).Msg("connected to gateway")
	return rt, nil
}

// Publish sends msg on channel and waits for the gateway to accept it.
func (r *Realtime) Publish(ctx context.Context, channel string, msg pubsub.Message) error {
	if channel == "" {
		return pubsub.ErrEmptyChannel
	}
	_, err := r.request(ctx, gateway.ClientFrame{
		Type:    gateway.FramePublish,
		Channel: channel,
		Name:    msg.Name,
		Data:    msg.Data,
	})
	return err
}

// Subscribe attaches sub to channel. The gateway subscription is shared by
// every local subscriber of the channel.
func (r *Realtime) Subscribe(channel string, sub pubsub.Subscriber) (pubsub.Handle, error) {
	if channel == "" {
		return nil, pubsub.ErrEmptyChannel
	}
	if sub == nil {
		return nil, pubsub.ErrInvalidSubscriber
	}

	r.subscribeMu.Lock()
	defer r.subscribeMu.Unlock()

	if r.closed.Load() {
		return nil, pubsub.ErrTransportUnavailable
	}

	// Attach locally first so messages racing the ack are not lost.
	h, err := r.local.Subscribe(channel, sub)
	if err != nil {
		return nil, err
	}
	if r.refs[channel] == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.RequestTimeout)
		defer cancel()
		if _, err := r.request(ctx, gateway.ClientFrame{Type: gateway.FrameSubscribe, Channel: channel}); err != nil {
			h.Unsubscribe()
			return nil, err
		}
	}
	r.refs[channel]++
	return &remoteHandle{Handle: h, rt: r}, nil
}

func (r *Realtime) release(channel string) {
	r.subscribeMu.Lock()
	defer r.subscribeMu.Unlock()

	r.refs[channel]--
	if r.refs[channel] > 0 {
		return
	}
	delete(r.refs, channel)
	if r.closed.Load() {
		return
	}

	// Fire and forget; late messages are dropped locally anyway.
	if err := r.write(gateway.ClientFrame{Type: gateway.FrameUnsubscribe, Channel: channel}); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("failed to send unsubscribe frame")
	}
}

func (r *Realtime) request(ctx context.Context, frame gateway.ClientFrame) (gateway.ServerFrame, error) {
	if r.closed.Load() {
		return gateway.ServerFrame{}, pubsub.ErrTransportUnavailable
	}

	id := strconv.FormatUint(r.nextID.Add(1), 10)
	frame.RequestID = id
	reply := make(chan gateway.ServerFrame, 1)

	r.pendingMu.Lock()
	r.pending[id] = reply
	r.pendingMu.Unlock()
	defer func() {
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
	}()

	if err := r.write(frame); err != nil {
		return gateway.ServerFrame{}, err
	}

	timeout := time.NewTimer(r.config.RequestTimeout)
	defer timeout.Stop()

	select {
	case resp := <-reply:
		if resp.Type == gateway.FrameError {
			return resp, fmt.Errorf("%w: %s", ErrRequestRejected, resp.Error)
		}
		return resp, nil
	case <-r.done:
		return gateway.ServerFrame{}, pubsub.ErrTransportUnavailable
	case <-timeout.C:
		return gateway.ServerFrame{}, fmt.Errorf("%s %s: %w", frame.Type, frame.Channel, context.DeadlineExceeded)
	case <-ctx.Done():
		return gateway.ServerFrame{}, ctx.Err()
	}
}

func (r *Realtime) write(frame gateway.ClientFrame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.conn.WriteJSON(frame); err != nil {
		r.shutdown()
		return fmt.Errorf("%w: %v", pubsub.ErrTransportUnavailable, err)
	}
	return nil
}

func (r *Realtime) readLoop() {
	defer r.shutdown()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if !r.closed.Load() {
				log.Warn().Err(err).Msg("gateway connection lost")
			}
			return
		}

		var frame gateway.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error().Err(err).Msg("failed to decode gateway frame")
			continue
		}

		switch frame.Type {
		case gateway.FrameMessage:
			if frame.Message == nil {
				continue
			}
			if err := r.local.DeliverRemote(frame.Channel, *frame.Message); err != nil {
				log.Debug().Err(err).Str("channel", frame.Channel).Msg("dropped gateway message")
			}
		case gateway.FrameAck, gateway.FrameError:
			r.pendingMu.Lock()
			reply, ok := r.pending[frame.RequestID]
			r.pendingMu.Unlock()
			if ok {
				reply <- frame
			} else if frame.Type == gateway.FrameError {
				log.Warn().Str("channel", frame.Channel).Str("error", frame.Error).Msg("gateway reported error")
			}
		}
	}
}

func (r *Realtime) shutdown() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.conn.Close()
		_ = r.local.Close()
	})
}

// Connected reports whether the WebSocket is still usable.
func (r *Realtime) Connected() bool {
	return !r.closed.Load()
}

// Close sends a close frame and tears the connection down.
func (r *Realtime) Close() error {
	if r.closed.Load() {
		return nil
	}
	r.writeMu.Lock()
	err := r.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	r.writeMu.Unlock()
	r.shutdown()
	return err
}

type remoteHandle struct {
	pubsub.Handle
	rt   *Realtime
	once sync.Once
}

func (h *remoteHandle) Unsubscribe() {
	h.once.Do(func() {
		h.Handle.Unsubscribe()
		h.rt.release(h.Channel())
	})
}
