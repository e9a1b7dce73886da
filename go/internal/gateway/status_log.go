package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mcdev12/relay/go/internal/pubsub"
)

// DefaultStatusChannel is the well-known channel for free-text status updates.
const DefaultStatusChannel = "status-updates"

// LogEntry is one line of the status log.
type LogEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusLog records the messages seen on the status channel, keeping the most
// recent limit entries.
type StatusLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	limit   int
	handle  pubsub.Handle
}

// NewStatusLog creates an empty status log.
func NewStatusLog(limit int) *StatusLog {
	if limit <= 0 {
		limit = 100
	}
	return &StatusLog{limit: limit}
}

// Attach subscribes the log to channel.
func (l *StatusLog) Attach(t pubsub.Transport, channel string) error {
	h, err := t.Subscribe(channel, l)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	l.handle = h
	return nil
}

// Detach stops recording.
func (l *StatusLog) Detach() {
	if l.handle != nil {
		l.handle.Unsubscribe()
	}
}

func (l *StatusLog) OnMessage(_ context.Context, msg pubsub.Message) error {
	var payload pubsub.StatusPayload
	if err := msg.Decode(&payload); err != nil {
		return fmt.Errorf("decode status payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, LogEntry{
		Message:   fmt.Sprintf("event name: %s text: %s", msg.Name, payload.Text),
		Timestamp: msg.Timestamp,
	})
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]LogEntry(nil), l.entries[over:]...)
	}
	return nil
}

// Entries returns a copy of the recorded entries, oldest first.
func (l *StatusLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LogEntry(nil), l.entries...)
}

// HandleEntries serves GET /status/log
func (l *StatusLog) HandleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, l.Entries())
}
