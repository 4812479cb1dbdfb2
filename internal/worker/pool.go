// Package worker provides the small pool that runs sync passes and import
// jobs concurrently. Each task runs to completion; blocking is limited to
// provider I/O, store access and backoff sleeps inside the task itself.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Submit when the pool's backlog is at capacity.
var ErrQueueFull = errors.New("worker queue is full")

type Task struct {
	Name string
	Run  func(ctx context.Context)
}

type Pool struct {
	size   int
	queue  chan Task
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewPool(size, queueDepth int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueDepth <= 0 {
		queueDepth = size * 4
	}
	return &Pool{
		size:   size,
		queue:  make(chan Task, queueDepth),
		logger: logger.With("component", "worker"),
	}
}

// Start launches the workers. They drain the queue until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool started", "workers", p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.logger.Debug("task started", "worker", id, "task", task.Name)
			task.Run(ctx)
			p.logger.Debug("task finished", "worker", id, "task", task.Name)
		}
	}
}

// Submit enqueues a task without blocking the caller.
func (p *Pool) Submit(task Task) error {
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until all workers have exited after ctx cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}
