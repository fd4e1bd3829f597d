package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Executor composes the circuit breaker and retry mechanisms around any
// unreliable call. The breaker is consulted before and updated after every
// attempt, so a circuit opened mid-execution stops the remaining retries
// instead of hammering the target again.
type Executor struct {
	breaker        *Breaker
	maxAttempts    int
	backoff        BackoffStrategy
	classifier     Classifier
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// ExecutorOption is a functional option for configuring an Executor
type ExecutorOption func(*Executor)

// WithRetryAttempts sets the total attempts per execution
func WithRetryAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the backoff strategy between attempts
func WithRetryBackoff(b BackoffStrategy) ExecutorOption {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithErrorClassifier sets the retryable-error classifier
func WithErrorClassifier(c Classifier) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithCallTimeout bounds each attempt with its own deadline
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.attemptTimeout = d
		}
	}
}

// WithLogger sets the logger for breaker bookkeeping failures
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an Executor wrapping calls with retry and the given breaker.
func NewExecutor(breaker *Breaker, opts ...ExecutorOption) (*Executor, error) {
	if breaker == nil {
		return nil, ErrStoreNil
	}

	e := &Executor{
		breaker:        breaker,
		maxAttempts:    3,
		backoff:        DefaultBackoffStrategy(),
		classifier:     DefaultClassifier,
		attemptTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Do executes fn against the named target with circuit breaking and retry.
// Returns ErrCircuitOpen without invoking fn when the circuit is open; an
// attempt denied admission records nothing against the breaker.
func (e *Executor) Do(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	return Retry(ctx, func(ctx context.Context) error {
		allowed, err := e.breaker.Allow(ctx, target)
		if err != nil {
			// A broken state store must not take the system down with it:
			// allow the call and keep the breaker best-effort
			e.logger.ErrorContext(ctx, "circuit breaker store unavailable, allowing call",
				slog.String("target", target),
				slog.String("error", err.Error()))
			allowed = true
		}
		if !allowed {
			return ErrCircuitOpen
		}

		err = fn(ctx)
		e.record(ctx, target, err)
		return err
	},
		WithMaxAttempts(e.maxAttempts),
		WithBackoff(e.backoff),
		WithClassifier(e.classifier),
		WithAttemptTimeout(e.attemptTimeout),
	)
}

// State exposes the circuit record for operational inspection.
func (e *Executor) State(ctx context.Context, target string) (BreakerState, error) {
	return e.breaker.State(ctx, target)
}

// Reset manually closes the circuit for a target.
func (e *Executor) Reset(ctx context.Context, target string) error {
	return e.breaker.Reset(ctx, target)
}

func (e *Executor) record(ctx context.Context, target string, callErr error) {
	var err error
	if callErr == nil {
		err = e.breaker.RecordSuccess(ctx, target)
	} else {
		err = e.breaker.RecordFailure(ctx, target)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to update circuit breaker state",
			slog.String("target", target),
			slog.String("error", err.Error()))
	}
}
