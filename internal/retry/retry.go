// Package retry implements the bounded-retry policy for provider calls:
// transient errors back off exponentially, permanent errors return at once.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sanyamjain04/plane/internal/provider"
)

type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !provider.IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		backoff := p.backoff(attempt)
		logger.Warn("transient error, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s: after %d attempts: %w", op, p.MaxAttempts, err)
}

func (p Policy) backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}
