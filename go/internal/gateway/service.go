package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// Service is the relay gateway: WebSocket clients, the HTTP publish entry
// point, token issuance and the status log, all in front of one message bus.
type Service struct {
	bus               *pubsub.Bus
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	publishHandler    *PublishHandler
	statusLog         *StatusLog
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	StatusChannel    string
	StatusLogSize    int
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		StatusChannel:    DefaultStatusChannel,
		StatusLogSize:    100,
	}
}

// NewService creates a new gateway service. issuer and verifier may be nil.
func NewService(config Config, bus *pubsub.Bus, issuer pubsub.TokenIssuer, verifier TokenVerifier) (*Service, error) {
	if config.StatusChannel == "" {
		config.StatusChannel = DefaultStatusChannel
	}

	connectionManager := NewConnectionManager(config.ConnectionConfig, bus)

	statusLog := NewStatusLog(config.StatusLogSize)
	if err := statusLog.Attach(bus, config.StatusChannel); err != nil {
		return nil, fmt.Errorf("failed to attach status log: %w", err)
	}

	return &Service{
		bus:               bus,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, verifier),
		publishHandler:    NewPublishHandler(bus, issuer, config.StatusChannel),
		statusLog:         statusLog,
	}, nil
}

// Start blocks until ctx is cancelled and then shuts the gateway down
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting relay gateway service")

	<-ctx.Done()

	log.Info().Msg("relay gateway service shutting down")
	return s.Stop()
}

// Stop disconnects every client and detaches the status log
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()
	s.statusLog.Detach()
	log.Info().Msg("relay gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.publishHandler.RegisterRoutes(mux)
	mux.Handle(NewPublishRPCHandler(s.publishHandler))
	mux.HandleFunc("/status/log", s.statusLog.HandleEntries)
	mux.HandleFunc("/stats", s.HandleStats)
	log.Info().Msg("relay gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.bus.Stats()
	for k, v := range s.connectionManager.GetConnectionStats() {
		stats[k] = v
	}
	stats["service"] = "relay_gateway"
	return stats
}

// HandleStats serves GET /stats
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStats())
}

// StatusLog returns the gateway's status log.
func (s *Service) StatusLog() *StatusLog {
	return s.statusLog
}
