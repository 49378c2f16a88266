package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/store"
	"go.uber.org/zap"
)

// ArchiveService ships the local conflict audit trail to the central archive
// in batches. A conflict is marked archived only after the archive accepted it.
type ArchiveService struct {
	db        TxRunner
	nodeID    string
	conflicts ConflictRecorder
	archive   store.ConflictArchive
	metrics   *metrics.Metrics
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
}

// NewArchiveService creates a new archive service
func NewArchiveService(
	db TxRunner,
	nodeID string,
	conflicts ConflictRecorder,
	archive store.ConflictArchive,
	batchSize int,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ArchiveService {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ArchiveService{
		db:        db,
		nodeID:    nodeID,
		conflicts: conflicts,
		archive:   archive,
		metrics:   m,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run archives pending conflicts every interval until ctx is cancelled.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.logger.Info("Starting conflict archiver", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Conflict archiver stopped")
			return nil
		case <-ticker.C:
			archived, err := s.ArchivePending(ctx)
			if err != nil {
				s.logger.Warn("Conflict archive round failed",
					zap.Int("archived", archived),
					zap.Error(err))
			} else if archived > 0 {
				s.logger.Info("Archived conflicts", zap.Int("archived", archived))
			}
		}
	}
}

// ArchivePending ships every unarchived conflict and returns how many were
// archived before any error.
func (s *ArchiveService) ArchivePending(ctx context.Context) (int, error) {
	archived := 0
	for {
		batch, err := s.conflicts.ListUnarchived(ctx, s.db.Conn(), s.batchSize)
		if err != nil {
			return archived, fmt.Errorf("failed to list unarchived conflicts: %w", err)
		}
		if len(batch) == 0 {
			return archived, nil
		}

		if err := s.archive.ArchiveConflicts(ctx, s.nodeID, batch); err != nil {
			s.metrics.RecordArchived("error", len(batch))
			return archived, fmt.Errorf("failed to archive conflicts: %w", err)
		}

		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ConflictUUID
		}
		if err := s.conflicts.MarkArchived(ctx, s.db.Conn(), ids); err != nil {
			return archived, fmt.Errorf("failed to mark conflicts archived: %w", err)
		}

		s.metrics.RecordArchived("success", len(batch))
		archived += len(batch)

		if len(batch) < s.batchSize {
			return archived, nil
		}
	}
}
