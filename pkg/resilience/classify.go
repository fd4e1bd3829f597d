package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Classifier reports whether an error is worth retrying. Validation and
// authorization failures must return false so they surface immediately.
type Classifier func(err error) bool

// transientError marks an error as retryable regardless of its type.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps an error so DefaultClassifier treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent wraps an error so it is never retried and can be detected with
// errors.Is(err, ErrPermanent).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// DefaultClassifier retries network-shaped failures and explicit Transient
// wrappers. Everything else, including context cancellation and Permanent
// wrappers, fails immediately.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrPermanent) {
		return false
	}

	// A canceled caller must not trigger further attempts
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	// Per-attempt deadline hit: the downstream may still be healthy
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
