package resilience

import (
	"context"
	"time"
)

// Breaker implements the circuit breaker pattern over an external StateStore,
// tracking one independent circuit per logical target (e.g. per platform).
//
// Transitions:
//
//	closed    --[failureThreshold consecutive failures]--> open
//	open      --[cooldown elapsed]-->                      half-open
//	half-open --[successThreshold successes]-->            closed
//	half-open --[any failure]-->                           open (fresh cooldown)
//
// State lives in the store, not the struct, so multiple worker processes
// sharing a store make consistent decisions. The read-modify-write on the
// store is not atomic; under concurrent failures the counters may be off by
// a few, which only shifts the exact moment the circuit trips.
type Breaker struct {
	store            StateStore
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

// BreakerOption is a functional option for configuring a Breaker
type BreakerOption func(*Breaker)

// WithFailureThreshold sets the consecutive failures required to open the circuit
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the half-open successes required to close the circuit
func WithSuccessThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long an open circuit blocks calls before probing
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// NewBreaker creates a circuit breaker over the given state store.
// Defaults: open after 5 consecutive failures, 60s cooldown, 2 successes to close.
func NewBreaker(store StateStore, opts ...BreakerOption) (*Breaker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	b := &Breaker{
		store:            store,
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         60 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow reports whether a call to the target may proceed. An open circuit
// past its cooldown transitions to half-open and allows the probe through.
func (b *Breaker) Allow(ctx context.Context, target string) (bool, error) {
	st, err := b.store.Get(ctx, target)
	if err != nil {
		return false, err
	}

	switch st.State {
	case StateOpen:
		if time.Now().After(st.NextAttempt) {
			st.State = StateHalfOpen
			st.HalfOpenSuccesses = 0
			if err := b.store.Put(ctx, target, st); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil

	case StateHalfOpen:
		return true, nil

	default:
		return true, nil
	}
}

// RecordSuccess records a successful call and may close the circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, target string) error {
	st, err := b.store.Get(ctx, target)
	if err != nil {
		return err
	}

	switch st.State {
	case StateHalfOpen:
		st.HalfOpenSuccesses++
		if st.HalfOpenSuccesses >= b.successThreshold {
			// Target appears healthy again
			return b.store.Reset(ctx, target)
		}
		return b.store.Put(ctx, target, st)

	case StateOpen:
		// Success while nominally open means another process already probed;
		// leave the transition to its bookkeeping
		return nil

	default:
		if st.Failures == 0 {
			return nil
		}
		st.Failures = 0
		return b.store.Put(ctx, target, st)
	}
}

// RecordFailure records a failed call and may open the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, target string) error {
	st, err := b.store.Get(ctx, target)
	if err != nil {
		return err
	}

	now := time.Now()
	st.LastFailure = now

	switch st.State {
	case StateHalfOpen:
		// Target still failing, reopen with a fresh cooldown
		st.State = StateOpen
		st.Failures = b.failureThreshold
		st.HalfOpenSuccesses = 0
		st.NextAttempt = now.Add(b.cooldown)

	default:
		st.State = StateClosed
		st.Failures++
		if st.Failures >= b.failureThreshold {
			st.State = StateOpen
			st.NextAttempt = now.Add(b.cooldown)
		}
	}

	return b.store.Put(ctx, target, st)
}

// State returns the current circuit record for a target, reflecting the
// half-open transition an elapsed cooldown would produce.
func (b *Breaker) State(ctx context.Context, target string) (BreakerState, error) {
	st, err := b.store.Get(ctx, target)
	if err != nil {
		return BreakerState{}, err
	}

	if st.State == StateOpen && time.Now().After(st.NextAttempt) {
		st.State = StateHalfOpen
	}
	if st.State == "" {
		st.State = StateClosed
	}
	return st, nil
}

// Reset returns the target's circuit to closed. Exposed for manual
// operational recovery.
func (b *Breaker) Reset(ctx context.Context, target string) error {
	return b.store.Reset(ctx, target)
}

// Targets lists all targets with recorded circuit state.
func (b *Breaker) Targets(ctx context.Context) ([]string, error) {
	return b.store.Targets(ctx)
}
