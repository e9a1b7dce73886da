package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/relay/go/internal/bridge"
	"github.com/mcdev12/relay/go/internal/config"
	"github.com/mcdev12/relay/go/internal/gateway"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Bus     *pubsub.Bus
	Gateway *gateway.Service
	Issuer  *gateway.JWTIssuer
	Bridge  bridge.Bridge

	wg sync.WaitGroup
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Bus → token issuer → gateway → bridge
	busCfg := pubsub.DefaultConfig()
	busCfg.MailboxSize = cfg.Bus.MailboxSize
	busCfg.PublisherID = getEnv("RELAY_NODE_ID", "")
	bus := pubsub.NewBus(busCfg)

	s := &Services{Bus: bus}

	var (
		issuer   pubsub.TokenIssuer
		verifier gateway.TokenVerifier
	)
	if secret := getEnv("RELAY_TOKEN_SECRET", ""); secret != "" {
		channels := cfg.Tokens.Channels
		if env := getEnvAsList("RELAY_TOKEN_CHANNELS"); len(env) > 0 {
			channels = env
		}
		jwtIssuer, err := gateway.NewJWTIssuer(secret, cfg.Tokens.TTL, channels)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("failed to create token issuer: %w", err)
		}
		s.Issuer = jwtIssuer
		issuer, verifier = jwtIssuer, jwtIssuer
	} else {
		log.Warn().Msg("RELAY_TOKEN_SECRET not set, accepting anonymous connections")
	}

	svc, err := gateway.NewService(cfg.GatewayConfig(), bus, issuer, verifier)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	s.Gateway = svc

	b, err := setupBridge(ctx, bus)
	if err != nil {
		_ = svc.Stop()
		_ = bus.Close()
		return nil, fmt.Errorf("failed to set up bridge: %w", err)
	}
	s.Bridge = b

	log.Info().
		Str("node_id", bus.PublisherID()).
		Str("status_channel", cfg.Channels.Status).
		Int("mailbox_size", cfg.Bus.MailboxSize).
		Bool("auth", verifier != nil).
		Bool("bridge", b != nil).
		Msg("relay services ready")
	return s, nil
}

// Start runs the gateway and bridge until ctx is cancelled.
func (s *Services) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	if s.Bridge != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Bridge.Start(ctx); err != nil {
				log.Error().Err(err).Msg("bridge failed")
			}
		}()
	}
}

// Stop waits for Start's goroutines to wind down, then closes the bus. The
// context passed to Start must already be cancelled.
func (s *Services) Stop() {
	s.wg.Wait()
	if err := s.Bus.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close bus")
	}
}
