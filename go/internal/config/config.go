// Package config loads the relay's channel layout from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcdev12/relay/go/internal/gateway"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"github.com/mcdev12/relay/go/internal/timer"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when RELAY_CONFIG is unset.
const DefaultPath = "relay.yaml"

type Config struct {
	Channels struct {
		Status string `yaml:"status" validate:"required,max=255"`
		Group  string `yaml:"group" validate:"required,max=255"`
	} `yaml:"channels"`

	Timers struct {
		IDs          []string      `yaml:"ids" validate:"required,min=1,unique,dive,required,max=64"`
		Quantum      time.Duration `yaml:"quantum" validate:"gte=1ms"`
		CorrectDrift bool          `yaml:"correct_drift"`
	} `yaml:"timers"`

	Bus struct {
		MailboxSize int `yaml:"mailbox_size" validate:"gte=1"`
	} `yaml:"bus"`

	StatusLog struct {
		Size int `yaml:"size" validate:"gte=1"`
	} `yaml:"status_log"`

	Tokens struct {
		TTL      time.Duration `yaml:"ttl" validate:"gte=1m"`
		Channels []string      `yaml:"channels" validate:"dive,required"`
	} `yaml:"tokens"`
}

// Default returns the three-timer demo layout.
func Default() Config {
	var c Config
	c.Channels.Status = gateway.DefaultStatusChannel
	c.Channels.Group = timer.DefaultGroupChannel
	c.Timers.IDs = timer.DefaultGroupConfig().TimerIDs
	c.Timers.Quantum = timer.DefaultQuantum
	c.Bus.MailboxSize = pubsub.DefaultMailboxSize
	c.StatusLog.Size = 100
	c.Tokens.TTL = time.Hour
	return c
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, c.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GroupConfig returns the timer group layout.
func (c Config) GroupConfig() timer.GroupConfig {
	return timer.GroupConfig{
		GroupChannel: c.Channels.Group,
		TimerIDs:     append([]string(nil), c.Timers.IDs...),
	}
}

// TimerConfig returns controller settings on the real clock.
func (c Config) TimerConfig() timer.Config {
	tc := timer.DefaultConfig()
	tc.Quantum = c.Timers.Quantum
	tc.CorrectDrift = c.Timers.CorrectDrift
	return tc
}

// GatewayConfig returns gateway settings for this layout.
func (c Config) GatewayConfig() gateway.Config {
	gc := gateway.DefaultConfig()
	gc.StatusChannel = c.Channels.Status
	gc.StatusLogSize = c.StatusLog.Size
	return gc
}
