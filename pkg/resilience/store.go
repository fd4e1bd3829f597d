package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker target
type State string

const (
	// StateClosed allows calls to pass through
	StateClosed State = "closed"
	// StateOpen blocks all calls
	StateOpen State = "open"
	// StateHalfOpen allows probe calls to test if the target has recovered
	StateHalfOpen State = "half-open"
)

// BreakerState is the persisted circuit record for one logical target.
// Stored outside process memory so horizontally scaled workers observe the
// same circuit decisions.
type BreakerState struct {
	State             State     `json:"state"`
	Failures          int       `json:"failures"`
	LastFailure       time.Time `json:"last_failure,omitzero"`
	NextAttempt       time.Time `json:"next_attempt,omitzero"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
}

// StateStore persists circuit breaker state per logical target.
type StateStore interface {
	// Get returns the state for a target. A target never seen before
	// returns a zero-value closed state, not an error.
	Get(ctx context.Context, target string) (BreakerState, error)

	// Put stores the state for a target.
	Put(ctx context.Context, target string, st BreakerState) error

	// Reset removes the state for a target, returning it to closed.
	Reset(ctx context.Context, target string) error

	// Targets lists all targets with recorded state.
	Targets(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process StateStore for tests and single-instance
// deployments. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]BreakerState
}

// NewMemoryStore creates an empty in-memory state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]BreakerState)}
}

func (s *MemoryStore) Get(ctx context.Context, target string) (BreakerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[target]
	if !ok {
		return BreakerState{State: StateClosed}, nil
	}
	return st, nil
}

func (s *MemoryStore) Put(ctx context.Context, target string, st BreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[target] = st
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, target)
	return nil
}

func (s *MemoryStore) Targets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]string, 0, len(s.states))
	for target := range s.states {
		targets = append(targets, target)
	}
	return targets, nil
}
