package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables.
// Environment variables use the VAULTSYNC_ prefix, e.g. VAULTSYNC_SYNC_INTERVAL.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vaultsync/")
	}

	v.SetEnvPrefix("VAULTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; defaults and environment still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers DefaultConfig with viper so every key is known to
// AutomaticEnv even without a config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("node.node_id", d.Node.NodeID)
	v.SetDefault("node.name", d.Node.Name)
	v.SetDefault("node.identity_file", d.Node.IdentityFile)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.push_timeout", d.Sync.PushTimeout)
	v.SetDefault("sync.pull_timeout", d.Sync.PullTimeout)
	v.SetDefault("sync.mailbox_size", d.Sync.MailboxSize)
	v.SetDefault("sync.mailbox_send_timeout", d.Sync.MailboxSendTimeout)
	v.SetDefault("sync.synced_window", d.Sync.SyncedWindow)
	v.SetDefault("sync.verify_checksums", d.Sync.VerifyChecksums)
	v.SetDefault("sync.max_parallel_pulls", d.Sync.MaxParallelPulls)

	v.SetDefault("gossip.enabled", d.Gossip.Enabled)
	v.SetDefault("gossip.bind_addr", d.Gossip.BindAddr)
	v.SetDefault("gossip.bind_port", d.Gossip.BindPort)
	v.SetDefault("gossip.advertise_addr", d.Gossip.AdvertiseAddr)
	v.SetDefault("gossip.seed_nodes", d.Gossip.SeedNodes)
	v.SetDefault("gossip.service_name", d.Gossip.ServiceName)
	v.SetDefault("gossip.stale_threshold", d.Gossip.StaleThreshold)
	v.SetDefault("gossip.stale_check_period", d.Gossip.StaleCheckPeriod)

	v.SetDefault("archive.dsn", d.Archive.DSN)
	v.SetDefault("archive.max_connections", d.Archive.MaxConnections)
	v.SetDefault("archive.interval", d.Archive.Interval)
	v.SetDefault("archive.batch_size", d.Archive.BatchSize)

	v.SetDefault("dedupe.addr", d.Dedupe.Addr)
	v.SetDefault("dedupe.password", d.Dedupe.Password)
	v.SetDefault("dedupe.db", d.Dedupe.DB)
	v.SetDefault("dedupe.ttl", d.Dedupe.TTL)

	v.SetDefault("rate_limiter.enabled", d.RateLimiter.Enabled)
	v.SetDefault("rate_limiter.requests_per_second", d.RateLimiter.RequestsPerSecond)
	v.SetDefault("rate_limiter.burst_size", d.RateLimiter.BurstSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
