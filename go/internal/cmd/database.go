package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/relay/go/internal/bridge"
	"github.com/mcdev12/relay/go/internal/dbconfig"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

const (
	bridgeNone     = ""
	bridgeNATS     = "nats"
	bridgePostgres = "postgres"
)

// setupBridge connects the bus to other relay processes as selected by
// RELAY_BRIDGE. It returns nil when no bridge is configured.
func setupBridge(ctx context.Context, bus *pubsub.Bus) (bridge.Bridge, error) {
	kind := strings.ToLower(getEnv("RELAY_BRIDGE", bridgeNone))

	switch kind {
	case bridgeNone:
		return nil, nil

	case bridgeNATS:
		cfg := bridge.DefaultNATSConfig()
		cfg.URL = getEnv("NATS_URL", cfg.URL)
		cfg.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.SubjectPrefix)
		cfg.ReconnectWait = getEnvAsDuration("NATS_RECONNECT_WAIT", cfg.ReconnectWait)

		b, err := bridge.NewNATSBridge(bus, cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.URL).Msg("NATS bridge configured")
		return b, nil

	case bridgePostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		cfg := bridge.DefaultPostgresConfig()
		cfg.DatabaseURL = dbCfg.DSN()
		cfg.NotifyChannel = getEnv("PG_NOTIFY_CHANNEL", cfg.NotifyChannel)
		cfg.QueueSize = getEnvAsInt("PG_BRIDGE_QUEUE_SIZE", cfg.QueueSize)

		b, err := bridge.NewPostgresBridge(ctx, bus, cfg)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("host", dbCfg.Host).
			Str("database", dbCfg.Database).
			Str("channel", cfg.NotifyChannel).
			Msg("postgres bridge configured")
		return b, nil

	default:
		return nil, fmt.Errorf("unknown RELAY_BRIDGE %q", kind)
	}
}
