// Package scheduler drives the periodic background sync sweep: every known
// (integration, repository) pair with an enabled integration is re-pulled on
// a fixed interval, so remote edits surface without an explicit trigger.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/sanyamjain04/plane/internal/domain"
)

//go:generate mockgen -source=scheduler.go -destination=mocks/mocks.go -package=mocks

// Puller runs one incremental pull pass for a repository.
type Puller interface {
	Pull(ctx context.Context, integrationID, repoRef string) (*domain.SyncReport, error)
}

// TargetLister enumerates the pairs eligible for a sweep.
type TargetLister interface {
	ListSyncTargets(ctx context.Context) ([]domain.SyncTarget, error)
}

type Scheduler struct {
	puller   Puller
	targets  TargetLister
	interval time.Duration
	logger   *slog.Logger
}

func New(puller Puller, targets TargetLister, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		puller:   puller,
		targets:  targets,
		interval: interval,
		logger:   logger.With("component", "sync_scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("sync scheduler started", "interval", s.interval)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep pulls each target in turn. A failing target is logged and skipped
// so one broken integration cannot starve the rest of the sweep.
func (s *Scheduler) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	targets, err := s.targets.ListSyncTargets(sweepCtx)
	if err != nil {
		s.logger.Error("listing sync targets failed", "error", err)
		return
	}

	for _, t := range targets {
		if sweepCtx.Err() != nil {
			return
		}
		report, err := s.puller.Pull(sweepCtx, t.IntegrationID, t.RepoRef)
		if err != nil {
			s.logger.Error("background pull failed",
				"integration_id", t.IntegrationID,
				"repo_ref", t.RepoRef,
				"error", err,
			)
			continue
		}
		s.logger.Debug("background pull finished",
			"integration_id", t.IntegrationID,
			"repo_ref", t.RepoRef,
			"created", report.Created,
			"updated", report.Updated,
			"conflicts", report.Conflicts,
		)
	}
}
