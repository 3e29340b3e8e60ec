package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once the attempt budget is spent
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig controls Retry and RetryWithResult
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors func(error) bool

	// OnRetry, when set, is called before each new attempt
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   DefaultRetryMaxAttempts,
		InitialDelay:  DefaultRetryInitialDelay,
		MaxDelay:      DefaultRetryMaxDelay,
		BackoffFactor: DefaultRetryBackoffFactor,
		RetryableErrors: func(err error) bool {
			return false
		},
	}
}

// ImmediateRetryConfig retries without sleeping, for compare-and-swap loops
// where a conflict is resolved by re-reading.
func ImmediateRetryConfig(attempts int, retryable func(error) bool) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		BackoffFactor:   1,
		RetryableErrors: retryable,
	}
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function with retry logic and returns a result.
// Non-retryable errors are returned unchanged; exhausting the budget returns
// an error matching both ErrMaxRetriesExceeded and the last error.
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return zero, err
		}

		if attempt == attempts-1 {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}

	return zero, fmt.Errorf("%w (%d): %w", ErrMaxRetriesExceeded, attempts, lastErr)
}
