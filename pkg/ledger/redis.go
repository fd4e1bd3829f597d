package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "postflow:ledger:"

// RedisLedger is a Ledger backed by Redis, visible to all worker processes.
// Each marker is a plain key with a TTL; Redis expiry does the pruning.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisLedgerOption is a functional option for configuring a RedisLedger
type RedisLedgerOption func(*RedisLedger)

// WithTTL overrides the marker expiry
func WithTTL(ttl time.Duration) RedisLedgerOption {
	return func(l *RedisLedger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewRedisLedger creates a Redis-backed ledger with DefaultTTL.
func NewRedisLedger(client redis.UniversalClient, opts ...RedisLedgerOption) (*RedisLedger, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	l := &RedisLedger{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, id string) error {
	if err := l.client.Set(ctx, keyPrefix+id, time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark job %q processed: %w", id, err)
	}
	return nil
}

func (l *RedisLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job %q: %w", id, err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Unmark(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to unmark job %q: %w", id, err)
	}
	return nil
}
