package errors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryConfig controls the backoff used for transient store failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier grows the delay after every retry.
	Multiplier float64

	// Jitter scales each delay by a random factor in [0.5, 1).
	Jitter bool
}

// DefaultRetryConfig suits SQLITE_BUSY on a local database: a handful of
// short waits, well under the busy_timeout pragma.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Retry calls fn until it succeeds, fails with a non-retryable IndexError,
// the retries run out or ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions returning a value. The zero value
// is returned with any error.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := range cfg.MaxRetries + 1 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if permanent(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if err := sleep(ctx, cfg.jittered(delay)); err != nil {
			return zero, err
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func (c RetryConfig) jittered(d time.Duration) time.Duration {
	if !c.Jitter {
		return d
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// permanent reports whether err is a structured error that retrying cannot fix.
func permanent(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && !ie.Retryable
}
