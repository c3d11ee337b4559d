// Package retry runs calls with bounded exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config configures exponential backoff retry behavior
type Config struct {
	MaxAttempts int           // Total attempts including the first call
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Upper bound for any single delay (0 = unbounded)
	Multiplier  float64       // Backoff growth factor

	// Retryable decides whether an error is worth another attempt.
	// nil retries every error.
	Retryable func(error) bool
}

// PermanentError marks an error that was not retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("non-retryable error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, the attempts run out, the error is not
// retryable or ctx is done. The last error is returned unchanged except for
// non-retryable errors, which are wrapped in *PermanentError.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, &PermanentError{Err: err}
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * multiplier)
			if cfg.MaxDelay > 0 && backoff > cfg.MaxDelay {
				backoff = cfg.MaxDelay
			}
		}
	}

	return zero, lastErr
}
