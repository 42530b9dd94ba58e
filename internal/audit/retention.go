package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"api_gateway/internal/models"
	"api_gateway/internal/utils"
)

// RetentionStore is the part of the audit repository the sweeper needs.
type RetentionStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.AuditLogEntry, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Archiver stores a batch of entries somewhere durable and returns its key.
type Archiver interface {
	WriteBatch(ctx context.Context, entries []*models.AuditLogEntry) (string, error)
}

// SweepResult summarises one retention run.
type SweepResult struct {
	Cutoff   time.Time
	Archived int
	Deleted  int64
	Objects  []string
}

// RetentionSweeper removes audit entries older than the retention window,
// archiving them first when an archiver is configured.
type RetentionSweeper struct {
	store     RetentionStore
	archiver  Archiver
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    *utils.Logger
}

// NewRetentionSweeper creates a sweeper. archiver may be nil, in which case
// expired entries are deleted without a copy.
func NewRetentionSweeper(store RetentionStore, archiver Archiver, retentionDays, batchSize int) *RetentionSweeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RetentionSweeper{
		store:     store,
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		batchSize: batchSize,
		now:       time.Now,
		logger:    utils.NewLogger("audit-retention"),
	}
}

// SetClock overrides the sweeper's time source.
func (s *RetentionSweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep runs until no expired entries remain or ctx is done. An archive
// failure stops the sweep without deleting the batch.
func (s *RetentionSweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Cutoff: s.now().UTC().Add(-s.retention)}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		n, err := s.sweepBatch(ctx, result)
		if err != nil {
			s.logger.Error("Audit retention sweep failed", "cutoff", result.Cutoff, "deleted", result.Deleted, "error", err)
			return result, err
		}
		if n < int64(s.batchSize) {
			break
		}
	}

	if result.Deleted > 0 {
		s.logger.Info("Audit retention sweep completed",
			"cutoff", result.Cutoff,
			"archived", result.Archived,
			"deleted", result.Deleted,
			"objects", len(result.Objects),
		)
	}
	return result, nil
}

func (s *RetentionSweeper) sweepBatch(ctx context.Context, result *SweepResult) (int64, error) {
	if s.archiver == nil {
		deleted, err := s.store.DeleteBefore(ctx, result.Cutoff, s.batchSize)
		result.Deleted += deleted
		return deleted, err
	}

	entries, err := s.store.ListBefore(ctx, result.Cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	key, err := s.archiver.WriteBatch(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("failed to archive audit entries: %w", err)
	}
	result.Archived += len(entries)
	result.Objects = append(result.Objects, key)

	ids := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	deleted, err := s.store.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	result.Deleted += deleted
	if deleted == 0 {
		return 0, nil
	}

	// Report the listed count so a short delete does not end the loop early.
	return int64(len(entries)), nil
}
