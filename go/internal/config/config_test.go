package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, "status-updates", c.Channels.Status)
	assert.Equal(t, []string{"1", "2", "3"}, c.Timers.IDs)
	assert.Equal(t, 10*time.Millisecond, c.Timers.Quantum)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
channels:
  group: stopwatches
timers:
  ids: ["a", "b"]
  quantum: 100ms
  correct_drift: true
bus:
  mailbox_size: 16
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "status-updates", c.Channels.Status)
	assert.Equal(t, "stopwatches", c.Channels.Group)
	assert.Equal(t, 16, c.Bus.MailboxSize)

	gc := c.GroupConfig()
	assert.Equal(t, "stopwatches", gc.GroupChannel)
	assert.Equal(t, []string{"a", "b"}, gc.TimerIDs)

	tc := c.TimerConfig()
	assert.Equal(t, 100*time.Millisecond, tc.Quantum)
	assert.True(t, tc.CorrectDrift)
	assert.NotNil(t, tc.Clock)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "timers: [\n"},
		{"no timers", "timers:\n  ids: []\n"},
		{"duplicate timer ids", "timers:\n  ids: [\"1\", \"1\"]\n"},
		{"empty group channel", "channels:\n  group: \"\"\n"},
		{"zero mailbox", "bus:\n  mailbox_size: 0\n"},
		{"sub-millisecond quantum", "timers:\n  quantum: 10us\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestGatewayConfig(t *testing.T) {
	c := Default()
	c.Channels.Status = "ops"
	c.StatusLog.Size = 5

	gc := c.GatewayConfig()
	assert.Equal(t, "ops", gc.StatusChannel)
	assert.Equal(t, 5, gc.StatusLogSize)
}
