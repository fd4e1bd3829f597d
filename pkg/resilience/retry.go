package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryOption is a functional option for Retry
type RetryOption func(*retryOptions)

type retryOptions struct {
	maxAttempts    int
	backoff        BackoffStrategy
	classifier     Classifier
	attemptTimeout time.Duration
}

// WithMaxAttempts sets the total number of attempts, including the first call
func WithMaxAttempts(n int) RetryOption {
	return func(o *retryOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the backoff strategy applied between attempts
func WithBackoff(b BackoffStrategy) RetryOption {
	return func(o *retryOptions) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithClassifier sets the function deciding which errors are retryable
func WithClassifier(c Classifier) RetryOption {
	return func(o *retryOptions) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithAttemptTimeout bounds each individual attempt with its own deadline,
// independent of the retry policy, so a hung call cannot hold a worker slot.
func WithAttemptTimeout(d time.Duration) RetryOption {
	return func(o *retryOptions) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// Retry invokes fn up to the configured number of attempts, sleeping
// according to the backoff strategy between attempts. Only errors the
// classifier reports as retryable trigger another attempt; other errors are
// returned as-is so validation and auth failures surface immediately.
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts ...RetryOption) error {
	options := &retryOptions{
		maxAttempts: 3,
		backoff:     DefaultBackoffStrategy(),
		classifier:  DefaultClassifier,
	}
	for _, opt := range opts {
		opt(options)
	}

	var lastErr error
	for attempt := 1; attempt <= options.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := options.backoff.NextInterval(attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := runAttempt(ctx, fn, options.attemptTimeout)
		if err == nil {
			return nil
		}

		if !options.classifier(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, options.maxAttempts, lastErr)
}

func runAttempt(ctx context.Context, fn func(ctx context.Context) error, timeout time.Duration) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(attemptCtx)
}
