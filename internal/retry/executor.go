// Package retry provides a generic executor for fallible operations with
// linear backoff.
package retry

import (
	"context"
	"time"
)

// Executor retries an operation on retryable failures, waiting
// attempt*BaseDelay between attempts. Non-retryable failures propagate
// immediately; after MaxAttempts retryable failures the last error is
// returned.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
	IsRetryable func(error) bool
}

// NewExecutor creates an executor. isRetryable classifies errors; a nil
// predicate treats every error as fatal.
func NewExecutor(maxAttempts int, baseDelay time.Duration, isRetryable func(error) bool) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if isRetryable == nil {
		isRetryable = func(error) bool { return false }
	}
	return &Executor{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		IsRetryable: isRetryable,
	}
}

// Execute runs op under the executor's retry policy. The backoff sleep is
// interruptible through ctx; cancellation returns the context error wrapped
// with whatever op last reported.
func Execute[T any](ctx context.Context, e *Executor, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if !e.IsRetryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == e.MaxAttempts {
			break
		}
		delay := time.Duration(attempt) * e.BaseDelay
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

// ExecuteVoid runs an operation that produces no value.
func ExecuteVoid(ctx context.Context, e *Executor, op func() error) error {
	_, err := Execute(ctx, e, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
