// Package engineretry implements the fixed-delay, always-retryable
// retry helper the batch processor uses for per-item retry. The
// engine's step-level on_error.action=retry loop does not use it.
//
// Adapted from, not copied from, Corynth's pkg/retry package: that
// package defaults to exponential backoff with jitter and only retries
// errors matching a configured substring list, a shape suited to
// retrying flaky external calls. Per-item batch retry instead wants
// a constant delay and unconditional retry up to max_attempts. The
// batch step's retry settings decide retry-worthiness, not
// error-message content, so this package keeps pkg/retry's Config
// struct and its cancellable-sleep idiom (select on ctx.Done() vs
// time.After(delay)) but drops BackoffMultiplier and RetryableErrors
// entirely.
package engineretry

import (
	"context"
	"time"
)

// Config configures one retry loop.
type Config struct {
	MaxAttempts int           // attempts beyond the first; 0 == no retry
	Delay       time.Duration
}

// Attempt is a single dispatch; Fn should return nil on success.
type Attempt func(attemptNum int) error

// Run dispatches fn up to 1+MaxAttempts times, sleeping Delay between
// attempts, honoring ctx cancellation. It
// returns the last error once attempts are exhausted, and the number
// of attempts actually made.
func Run(ctx context.Context, cfg Config, fn Attempt) (attempts int, err error) {
	maxDispatches := cfg.MaxAttempts + 1
	for attempt := 1; attempt <= maxDispatches; attempt++ {
		attempts = attempt
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, ctxErr
		}
		err = fn(attempt)
		if err == nil {
			return attempts, nil
		}
		if attempt == maxDispatches {
			break
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return attempts, err
}
