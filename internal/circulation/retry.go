package circulation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"libradesk/internal/store"
)

const (
	defaultMaxAttempts  = 2
	defaultBaseDelay    = 5 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// retryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// or maxAttempts is reached. Delays double per attempt: baseDelay, 2*baseDelay, ...
// Only store.ErrConcurrencyConflict is retried.
func retryOnConflict(ctx context.Context, cfg retryConfig, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		err = fn(ctx)
		attempts = attempt + 1
		if err == nil || !errors.Is(err, store.ErrConcurrencyConflict) {
			return attempts, err
		}
	}
	return attempts, err
}
