package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and local development.
// Expired markers are pruned lazily on read and write.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]time.Time // id -> expiry
	ttl     time.Duration
}

// MemoryLedgerOption is a functional option for configuring a MemoryLedger
type MemoryLedgerOption func(*MemoryLedger)

// WithMemoryTTL overrides the marker expiry
func WithMemoryTTL(ttl time.Duration) MemoryLedgerOption {
	return func(l *MemoryLedger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewMemoryLedger creates an in-memory ledger with DefaultTTL.
func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	l := &MemoryLedger{
		entries: make(map[string]time.Time),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) MarkProcessed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()
	l.entries[id] = time.Now().Add(l.ttl)
	return nil
}

func (l *MemoryLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	l.mu.RLock()
	expiry, ok := l.entries[id]
	l.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		l.mu.Lock()
		delete(l.entries, id)
		l.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Unmark(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, id)
	return nil
}

// prune drops expired markers; callers must hold the write lock.
func (l *MemoryLedger) prune() {
	now := time.Now()
	for id, expiry := range l.entries {
		if now.After(expiry) {
			delete(l.entries, id)
		}
	}
}
