package utils

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns how long to wait after the given zero-based failed attempt.
type Backoff func(attempt int) time.Duration

// ConstantBackoff waits d after every failure.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// LinearBackoff waits (attempt+1)*base, strictly increasing for base > 0.
func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration { return time.Duration(attempt+1) * base }
}

// ExponentialBackoff doubles base after every failure.
func ExponentialBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration { return base << uint(attempt) }
}

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable decides whether a failure may be retried. nil retries everything.
	Retryable func(error) bool
	Logger    *Logger
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is exhausted. The last error is returned wrapped.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if r.Retryable != nil && !r.Retryable(lastErr) {
			return lastErr
		}

		if attempt+1 < maxAttempts {
			var delay time.Duration
			if r.Backoff != nil {
				delay = r.Backoff(attempt)
			}
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt+1, maxAttempts, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt+1, lastErr)
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
