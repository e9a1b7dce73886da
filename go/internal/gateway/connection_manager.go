package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

var errForbiddenChannel = errors.New("channel not permitted by token")

// ConnectionManager manages WebSocket clients of the relay. Each connection
// holds its own bus subscriptions; they are all dropped when it disconnects.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	config ConnectionConfig
	bus    *pubsub.Bus
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	ClientID string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager
	Grant    Grant

	subsMu        sync.Mutex
	subscriptions map[string]pubsub.Handle

	sendMu sync.RWMutex
	closed bool

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, bus *pubsub.Bus) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		bus:    bus,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, grant Grant) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ClientID:      grant.ClientID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		Grant:         grant,
		subscriptions: make(map[string]pubsub.Handle),
		ConnectedAt:   time.Now(),
		LastPing:      time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", connection.ClientID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and drops all of its subscriptions.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	if !exists {
		return
	}

	conn.closeSend()
	conn.dropSubscriptions()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Msg("connection unregistered")
}

// CloseAll disconnects every client.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	subscriptions := 0
	for c := range cm.connections {
		c.subsMu.Lock()
		subscriptions += len(c.subscriptions)
		c.subsMu.Unlock()
	}

	return map[string]interface{}{
		"total_connections":        len(cm.connections),
		"connection_subscriptions": subscriptions,
	}
}

// deliver forwards a bus message on one of the connection's channels to the
// client. A client that cannot keep up is disconnected.
func (c *Connection) deliver(channel string, msg pubsub.Message) error {
	data, err := json.Marshal(ServerFrame{Type: FrameMessage, Channel: channel, Message: &msg})
	if err != nil {
		return fmt.Errorf("marshal message frame: %w", err)
	}
	if !c.trySend(data) {
		log.Warn().
			Str("connection_id", c.ID).
			Str("client_id", c.ClientID).
			Msg("connection send buffer full, closing connection")
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}
	return nil
}

// trySend queues data without blocking. It reports false when the buffer is
// full; data for an already closed connection is discarded.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Connection) isClosed() bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	return c.closed
}

func (c *Connection) subscribe(channel string) error {
	if !c.Grant.Allows(channel) {
		return errForbiddenChannel
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.isClosed() {
		return pubsub.ErrTransportUnavailable
	}
	if _, exists := c.subscriptions[channel]; exists {
		return nil
	}
	h, err := c.Manager.bus.Subscribe(channel, pubsub.SubscriberFunc(func(_ context.Context, msg pubsub.Message) error {
		return c.deliver(channel, msg)
	}))
	if err != nil {
		return err
	}
	c.subscriptions[channel] = h
	return nil
}

func (c *Connection) unsubscribe(channel string) {
	c.subsMu.Lock()
	h, exists := c.subscriptions[channel]
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()

	if exists {
		h.Unsubscribe()
	}
}

func (c *Connection) dropSubscriptions() {
	c.subsMu.Lock()
	subs := c.subscriptions
	c.subscriptions = make(map[string]pubsub.Handle)
	c.subsMu.Unlock()

	for _, h := range subs {
		h.Unsubscribe()
	}
}

func (c *Connection) publish(ctx context.Context, frame ClientFrame) error {
	if !c.Grant.Allows(frame.Channel) {
		return errForbiddenChannel
	}
	return c.Manager.bus.Publish(ctx, frame.Channel, pubsub.Message{
		Name:        frame.Name,
		Data:        frame.Data,
		PublisherID: c.ClientID,
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading frames from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes a frame received from the client
func (c *Connection) handleClientMessage(message []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.reply(ServerFrame{Type: FrameError, Error: "malformed frame"})
		return
	}
	if frame.Channel == "" {
		c.reply(ServerFrame{Type: FrameError, RequestID: frame.RequestID, Error: pubsub.ErrEmptyChannel.Error()})
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("frame_type", string(frame.Type)).
		Str("channel", frame.Channel).
		Msg("received client frame")

	var err error
	switch frame.Type {
	case FrameSubscribe:
		err = c.subscribe(frame.Channel)
	case FrameUnsubscribe:
		c.unsubscribe(frame.Channel)
	case FramePublish:
		err = c.publish(context.Background(), frame)
	default:
		err = fmt.Errorf("unknown frame type %q", frame.Type)
	}

	if err != nil {
		c.reply(ServerFrame{Type: FrameError, Channel: frame.Channel, RequestID: frame.RequestID, Error: err.Error()})
		return
	}
	c.reply(ServerFrame{Type: FrameAck, Channel: frame.Channel, RequestID: frame.RequestID})
}

func (c *Connection) reply(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply frame")
		return
	}
	c.trySend(data)
}
