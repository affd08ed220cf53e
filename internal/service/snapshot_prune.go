package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/repository"
)

// SnapshotPruneService trims old portfolio snapshot rows. One row per cycle
// adds up fast; anything older than Keep is history the optimizer never reads.
type SnapshotPruneService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Keep   time.Duration
}

func (s *SnapshotPruneService) RunOnce(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	keep := s.Keep
	if keep <= 0 {
		keep = 90 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-keep)
	deleted, err := s.Repo.DeletePortfolioSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if s.Logger != nil && deleted > 0 {
		s.Logger.Info("portfolio snapshots pruned",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
