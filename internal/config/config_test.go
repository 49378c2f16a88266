package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Sync.PushTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sync.PullTimeout)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Gossip.StaleThreshold)
	assert.False(t, cfg.Archive.Enabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no database path", func(c *Config) { c.Database.Path = "" }},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"zero mailbox", func(c *Config) { c.Sync.MailboxSize = 0 }},
		{"zero push timeout", func(c *Config) { c.Sync.PushTimeout = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"archive without interval", func(c *Config) {
			c.Archive.DSN = "postgres://localhost/vaultsync"
			c.Archive.Interval = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
node:
  node_id: terminal-a
server:
  port: 3100
sync:
  interval: 45s
  batch_size: 50
gossip:
  enabled: false
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "terminal-a", cfg.Node.NodeID)
	assert.Equal(t, 3100, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.False(t, cfg.Gossip.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Sync.PullTimeout)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 3100\n"), 0o644))

	t.Setenv("VAULTSYNC_SERVER_PORT", "3200")
	t.Setenv("VAULTSYNC_NODE_NODE_ID", "terminal-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3200, cfg.Server.Port)
	assert.Equal(t, "terminal-env", cfg.Node.NodeID)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
