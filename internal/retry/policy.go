// Package retry implements reusable retry execution with backoff.
package retry

import (
	"context"
	"time"
)

// Backoff selects the wait-time growth strategy between attempts.
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffFixed       Backoff = "fixed"
)

// Options configures a single Execute run.
type Options struct {
	// MaxRetries is the number of re-invocations after the first attempt.
	MaxRetries int
	// Delay is the base delay before the first retry.
	Delay time.Duration
	// Backoff defaults to exponential.
	Backoff Backoff
	// ShouldRetry is consulted before each retry; nil means always retry.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry is invoked before waiting, with the upcoming attempt number
	// (1-based) and the wait duration.
	OnRetry func(err error, attempt int, wait time.Duration)
}

// DelayFor computes the wait before retrying after the given zero-based
// attempt.
func DelayFor(base time.Duration, attempt int, backoff Backoff) time.Duration {
	switch backoff {
	case BackoffLinear:
		return base * time.Duration(attempt+1)
	case BackoffFixed:
		return base
	default:
		return base << uint(attempt)
	}
}

// Execute runs fn, retrying per opts. The waits are context-aware; a
// canceled context surfaces ctx.Err(). Exhausting retries returns the last
// error unchanged so callers can inspect it.
func Execute(ctx context.Context, fn func() error, opts Options) error {
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.ShouldRetry != nil && !opts.ShouldRetry(err, attempt) {
			return err
		}
		if attempt == opts.MaxRetries {
			break
		}

		wait := DelayFor(opts.Delay, attempt, opts.Backoff)
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt+1, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
