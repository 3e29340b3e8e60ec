package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetryWithResult_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := &RetryConfig{
		MaxAttempts:     5,
		InitialDelay:    time.Millisecond,
		MaxDelay:        4 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: func(err error) bool { return errors.Is(err, errTransient) },
		OnRetry:         func(attempt int, _ error) { retried = append(retried, attempt) },
	}

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0

	err := Retry(context.Background(), ImmediateRetryConfig(5, func(err error) bool {
		return errors.Is(err, errTransient)
	}), func() error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), ImmediateRetryConfig(3, func(error) bool { return true }), func() error {
		calls++
		return errTransient
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, errTransient)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("counters")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	cb := NewCircuitBreaker(cfg, nil)

	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Run(ctx, func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Run(ctx, func() error { return boom }), boom)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	err := cb.Run(ctx, func() error {
		t.Fatal("open breaker must not call through")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
