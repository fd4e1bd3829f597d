package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	breakerKeyPrefix = "postflow:breaker:"
	breakerIndexKey  = "postflow:breaker:targets"
)

// RedisStore is a StateStore backed by Redis so that circuit decisions are
// shared across worker processes. One hash-free JSON value per target plus a
// set indexing known targets for the operational surface.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed circuit state store
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrStoreNil
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, target string) (BreakerState, error) {
	raw, err := s.client.Get(ctx, breakerKeyPrefix+target).Bytes()
	if errors.Is(err, redis.Nil) {
		return BreakerState{State: StateClosed}, nil
	}
	if err != nil {
		return BreakerState{}, fmt.Errorf("failed to load breaker state for %q: %w", target, err)
	}

	var st BreakerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return BreakerState{}, fmt.Errorf("failed to decode breaker state for %q: %w", target, err)
	}
	return st, nil
}

func (s *RedisStore) Put(ctx context.Context, target string, st BreakerState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode breaker state for %q: %w", target, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, breakerKeyPrefix+target, raw, 0)
	pipe.SAdd(ctx, breakerIndexKey, target)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store breaker state for %q: %w", target, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, target string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, breakerKeyPrefix+target)
	pipe.SRem(ctx, breakerIndexKey, target)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset breaker state for %q: %w", target, err)
	}
	return nil
}

func (s *RedisStore) Targets(ctx context.Context) ([]string, error) {
	targets, err := s.client.SMembers(ctx, breakerIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list breaker targets: %w", err)
	}
	return targets, nil
}
