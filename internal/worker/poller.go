package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sanyamjain04/plane/internal/storage"
)

// ImportRunner claims and runs one queued import job.
type ImportRunner interface {
	RunNext(ctx context.Context) error
}

// Poller periodically drains the import job queue onto the pool. Each tick
// submits one drain task; the task claims jobs until the queue is empty so a
// burst of jobs does not wait a full interval each.
type Poller struct {
	runner   ImportRunner
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(runner ImportRunner, pool *Pool, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		runner:   runner,
		pool:     pool,
		interval: interval,
		logger:   logger.With("component", "import_poller"),
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("import poller started", "interval", p.interval)

	p.drain(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("import poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Poller) drain(ctx context.Context) {
	task := Task{
		Name: "import.drain",
		Run: func(ctx context.Context) {
			for {
				err := p.runner.RunNext(ctx)
				if errors.Is(err, storage.ErrNoQueuedJob) {
					return
				}
				if err != nil {
					p.logger.Error("import job run failed", "error", err)
					return
				}
			}
		},
	}
	if err := p.pool.Submit(task); err != nil {
		p.logger.Warn("skipping poll tick", "error", err)
	}
}
