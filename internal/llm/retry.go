package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// backoff computes the wait before the given same-provider retry
// (attempt 0 is the first retry).
func (c BackoffConfig) backoff(attempt int, err error) time.Duration {
	if c.InitialWait <= 0 {
		return 0
	}

	// Respect RetryAfter for rate limits.
	var e *Error
	if errors.As(err, &e) && e.Category == CategoryRateLimit && e.RetryAfter > 0 {
		return e.RetryAfter
	}

	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := float64(c.InitialWait) * math.Pow(mult, float64(attempt))
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	// Add ±20% jitter.
	jitter := wait * 0.2 * (2*rand.Float64() - 1)
	wait += jitter

	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
