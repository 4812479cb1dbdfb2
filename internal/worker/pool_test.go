package worker

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanyamjain04/plane/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(2, 8, testLogger())
	pool.Start(ctx)

	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		err := pool.Submit(Task{
			Name: "count",
			Run: func(ctx context.Context) {
				if ran.Add(1) == 4 {
					close(done)
				}
			},
		})
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}
	assert.Equal(t, int32(4), ran.Load())

	cancel()
	pool.Wait()
}

func TestPool_SubmitFullQueue(t *testing.T) {
	// Not started, so nothing drains the queue.
	pool := NewPool(1, 1, testLogger())

	require.NoError(t, pool.Submit(Task{Name: "first", Run: func(context.Context) {}}))
	err := pool.Submit(Task{Name: "second", Run: func(context.Context) {}})
	assert.ErrorIs(t, err, ErrQueueFull)
}

type fakeRunner struct {
	runs atomic.Int32
	// jobs is how many RunNext calls succeed before the queue reads empty.
	jobs int32
}

func (f *fakeRunner) RunNext(ctx context.Context) error {
	if f.runs.Add(1) > f.jobs {
		return storage.ErrNoQueuedJob
	}
	return nil
}

func TestPoller_DrainClaimsUntilQueueEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(1, 4, testLogger())
	pool.Start(ctx)

	runner := &fakeRunner{jobs: 3}
	poller := NewPoller(runner, pool, time.Minute, testLogger())

	poller.drain(ctx)

	// 3 jobs plus the empty-queue probe.
	assert.Eventually(t, func() bool {
		return runner.runs.Load() == 4
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	pool.Wait()
}
