// Package app assembles a VaultSync node from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/client"
	"github.com/Synaptikal/VaultSync-sub001/internal/config"
	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/handler"
	"github.com/Synaptikal/VaultSync-sub001/internal/health"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/server"
	"github.com/Synaptikal/VaultSync-sub001/internal/service"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Node is one running terminal: its store, services and servers.
type Node struct {
	cfg    *config.Config
	nodeID string
	logger *zap.Logger

	db        *store.DB
	dedupe    store.PushDedupeStore
	archive   store.ConflictArchive
	directory *service.GossipPeerDirectory

	Transactions *service.TransactionService
	Resolver     *service.ConflictResolver
	Actor        *service.SyncActor
	Archiver     *service.ArchiveService
	Health       *health.HealthChecker
	HTTP         *server.Server
	Metrics      *metrics.MetricsServer
}

// NewNode opens the local store and wires every component. Optional
// backends (archive, redis dedupe, gossip) are connected only when
// configured.
func NewNode(ctx context.Context, cfg *config.Config, nodeID string, logger *zap.Logger) (*Node, error) {
	logger = logger.With(zap.String("node_id", nodeID))
	m := metrics.NewMetrics()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info("Local store opened", zap.String("path", cfg.Database.Path))

	n := &Node{cfg: cfg, nodeID: nodeID, logger: logger, db: db}

	if cfg.Dedupe.Addr != "" {
		redisStore, err := store.NewRedisPushDedupeStore(cfg.Dedupe.Addr, cfg.Dedupe.Password, cfg.Dedupe.DB, logger)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to connect push dedupe store: %w", err)
		}
		n.dedupe = redisStore
		logger.Info("Push dedupe using redis", zap.String("addr", cfg.Dedupe.Addr))
	} else {
		n.dedupe = store.NewInMemoryPushDedupeStore(10000, logger)
	}

	if cfg.Archive.Enabled() {
		archive, err := store.NewPostgresConflictArchive(ctx, cfg.Archive.DSN, cfg.Archive.MaxConnections)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to connect conflict archive: %w", err)
		}
		n.archive = archive
		logger.Info("Conflict archive connected")
	}

	replicated := store.NewReplicatedStore(nodeID)
	inventory := store.NewInventoryStore()
	catalog := store.NewCatalogStore()
	transactions := store.NewTransactionStore()
	documents := store.NewDocumentStore()
	conflicts := store.NewConflictStore()
	cursors := store.NewPeerCursorStore()

	n.Transactions = service.NewTransactionService(db, replicated, inventory, transactions, catalog, m, logger)
	applier := service.NewEntityApplier(catalog, inventory, transactions, documents)
	n.Resolver = service.NewConflictResolver(db, replicated, applier, conflicts, m, logger)

	n.directory = service.NewGossipPeerDirectory(service.PeerDirectoryConfig{
		NodeID:           nodeID,
		Name:             cfg.Node.Name,
		SyncPort:         cfg.Server.Port,
		ServiceName:      cfg.Gossip.ServiceName,
		StaleThreshold:   cfg.Gossip.StaleThreshold,
		StaleCheckPeriod: cfg.Gossip.StaleCheckPeriod,
	}, m, logger)

	syncClient := client.NewSyncClient(nodeID, cfg.Sync.PushTimeout, cfg.Sync.PullTimeout, logger)
	n.Actor = service.NewSyncActor(service.SyncActorConfig{
		BatchSize:        cfg.Sync.BatchSize,
		PushTimeout:      cfg.Sync.PushTimeout,
		PullTimeout:      cfg.Sync.PullTimeout,
		MailboxSize:      cfg.Sync.MailboxSize,
		SendTimeout:      cfg.Sync.MailboxSendTimeout,
		Interval:         cfg.Sync.Interval,
		SyncedWindow:     cfg.Sync.SyncedWindow,
		VerifyChecksums:  cfg.Sync.VerifyChecksums,
		MaxParallelPulls: cfg.Sync.MaxParallelPulls,
	}, db, replicated, n.Resolver, cursors, n.directory, syncClient, m, logger)

	if n.archive != nil {
		n.Archiver = service.NewArchiveService(db, nodeID, conflicts, n.archive,
			cfg.Archive.BatchSize, cfg.Archive.Interval, m, logger)
	}

	checks := []health.Check{{Name: "database", Critical: true, Probe: db.Ping}}
	if n.archive != nil {
		checks = append(checks, health.Check{Name: "archive", Probe: n.archive.Ping})
	}
	checks = append(checks, health.Check{Name: "dedupe", Probe: n.dedupe.Ping})
	n.Health = health.NewHealthChecker(checks, m, logger)

	errorHandler := synerrors.NewHandler(logger)
	feed := service.NewChangeFeed(db, replicated, cfg.Sync.BatchSize)
	syncHandler := handler.NewSyncHandler(n.Actor, feed, n.Resolver, n.dedupe, cfg.Dedupe.TTL, errorHandler, logger)
	txHandler := handler.NewTransactionHandler(n.Transactions, errorHandler, logger)
	n.HTTP = server.NewServer(cfg, syncHandler, txHandler, n.Health, errorHandler, m, logger)

	if cfg.Metrics.Enabled {
		n.Metrics = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
	}

	return n, nil
}

// Directory returns the node's peer directory.
func (n *Node) Directory() *service.GossipPeerDirectory {
	return n.directory
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts the rest down.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.Gossip.Enabled {
		if err := n.directory.StartGossip(service.GossipConfig{
			BindAddr:      n.cfg.Gossip.BindAddr,
			BindPort:      n.cfg.Gossip.BindPort,
			AdvertiseAddr: n.cfg.Gossip.AdvertiseAddr,
			SeedNodes:     n.cfg.Gossip.SeedNodes,
		}); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.Actor.Run(gctx) })
	g.Go(func() error { return n.directory.Run(gctx) })
	g.Go(func() error { return n.Health.Run(gctx) })
	if n.Archiver != nil {
		g.Go(func() error { return n.Archiver.Run(gctx) })
	}
	g.Go(n.HTTP.Start)
	if n.Metrics != nil {
		g.Go(n.Metrics.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		n.logger.Info("Shutting down node")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := n.HTTP.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if n.Metrics != nil {
			if err := n.Metrics.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		n.Actor.Stop()
		if err := n.directory.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the store and optional backends.
func (n *Node) Close() {
	if n.dedupe != nil {
		if err := n.dedupe.Close(); err != nil {
			n.logger.Warn("Failed to close push dedupe store", zap.Error(err))
		}
	}
	if n.archive != nil {
		n.archive.Close()
	}
	if err := n.db.Close(); err != nil {
		n.logger.Warn("Failed to close store", zap.Error(err))
	}
}

// startupTimeout bounds connecting to optional backends.
const startupTimeout = 15 * time.Second

// Open is NewNode with a bounded startup context.
func Open(cfg *config.Config, nodeID string, logger *zap.Logger) (*Node, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	return NewNode(ctx, cfg, nodeID, logger)
}

// DB returns the node's local store.
func (n *Node) DB() *store.DB {
	return n.db
}
