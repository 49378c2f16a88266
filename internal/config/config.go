// Package config provides configuration management for a VaultSync node.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all configuration for a VaultSync node.
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Dedupe      DedupeConfig      `mapstructure:"dedupe"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// NodeConfig identifies this terminal. An empty NodeID is generated on first
// boot and persisted in IdentityFile.
type NodeConfig struct {
	NodeID       string `mapstructure:"node_id"`
	Name         string `mapstructure:"name"`
	IdentityFile string `mapstructure:"identity_file"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds the local SQLite store configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig holds replication settings.
type SyncConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	PushTimeout        time.Duration `mapstructure:"push_timeout"`
	PullTimeout        time.Duration `mapstructure:"pull_timeout"`
	MailboxSize        int           `mapstructure:"mailbox_size"`
	MailboxSendTimeout time.Duration `mapstructure:"mailbox_send_timeout"`
	SyncedWindow       time.Duration `mapstructure:"synced_window"`
	VerifyChecksums    bool          `mapstructure:"verify_checksums"`
	MaxParallelPulls   int           `mapstructure:"max_parallel_pulls"`
}

// GossipConfig holds peer discovery configuration.
type GossipConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BindAddr         string        `mapstructure:"bind_addr"`
	BindPort         int           `mapstructure:"bind_port"`
	AdvertiseAddr    string        `mapstructure:"advertise_addr"`
	SeedNodes        []string      `mapstructure:"seed_nodes"`
	ServiceName      string        `mapstructure:"service_name"`
	StaleThreshold   time.Duration `mapstructure:"stale_threshold"`
	StaleCheckPeriod time.Duration `mapstructure:"stale_check_period"`
}

// ArchiveConfig holds the optional PostgreSQL conflict archive. Disabled
// when DSN is empty.
type ArchiveConfig struct {
	DSN            string        `mapstructure:"dsn"`
	MaxConnections int32         `mapstructure:"max_connections"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// Enabled reports whether a central archive is configured
func (a ArchiveConfig) Enabled() bool {
	return a.DSN != ""
}

// DedupeConfig holds inbound push batch de-duplication. Redis is used when
// Addr is set; otherwise an in-process store is used.
type DedupeConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch size must be positive: %d", c.Sync.BatchSize)
	}
	if c.Sync.MailboxSize <= 0 {
		return fmt.Errorf("sync mailbox size must be positive: %d", c.Sync.MailboxSize)
	}
	if c.Sync.PushTimeout <= 0 || c.Sync.PullTimeout <= 0 {
		return errors.New("sync push and pull timeouts must be positive")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Gossip.Enabled && (c.Gossip.BindPort <= 0 || c.Gossip.BindPort > 65535) {
		return fmt.Errorf("invalid gossip port: %d", c.Gossip.BindPort)
	}
	if c.Archive.Enabled() && c.Archive.Interval <= 0 {
		return errors.New("archive interval must be positive")
	}
	if c.RateLimiter.Enabled && c.RateLimiter.RequestsPerSecond <= 0 {
		return errors.New("rate limiter requests per second must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name:         "vaultsync",
			IdentityFile: "./data/node.yaml",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/vaultsync.db",
		},
		Sync: SyncConfig{
			Interval:           30 * time.Second,
			BatchSize:          100,
			PushTimeout:        5 * time.Second,
			PullTimeout:        10 * time.Second,
			MailboxSize:        64,
			MailboxSendTimeout: 2 * time.Second,
			SyncedWindow:       5 * time.Minute,
			VerifyChecksums:    true,
			MaxParallelPulls:   4,
		},
		Gossip: GossipConfig{
			Enabled:          true,
			BindAddr:         "0.0.0.0",
			BindPort:         7946,
			ServiceName:      "_vaultsync._tcp",
			StaleThreshold:   90 * time.Second,
			StaleCheckPeriod: 30 * time.Second,
		},
		Archive: ArchiveConfig{
			MaxConnections: 4,
			Interval:       time.Minute,
			BatchSize:      100,
		},
		Dedupe: DedupeConfig{
			TTL: 10 * time.Minute,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			BurstSize:         20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
