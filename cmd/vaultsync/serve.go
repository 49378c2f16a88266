package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Synaptikal/VaultSync-sub001/internal/app"
	"github.com/Synaptikal/VaultSync-sub001/internal/config"
	"github.com/Synaptikal/VaultSync-sub001/internal/identity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a VaultSync node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	configPath := opts.configPath
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	id, err := identity.LoadOrCreate(cfg.Node.IdentityFile, cfg.Node.NodeID, cfg.Node.Name)
	if err != nil {
		logger.Error("Failed to load node identity", zap.Error(err))
		return err
	}

	logger.Info("Configuration loaded",
		zap.String("node_id", id.NodeID),
		zap.String("name", cfg.Node.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
		zap.Bool("gossip", cfg.Gossip.Enabled),
		zap.Bool("archive", cfg.Archive.Enabled()))

	node, err := app.Open(cfg, id.NodeID, logger)
	if err != nil {
		logger.Error("Failed to initialize node", zap.Error(err))
		return err
	}
	defer node.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx); err != nil {
		logger.Error("Node stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Node stopped")
	return nil
}

// initLogger builds the production zap logger at the configured level.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
