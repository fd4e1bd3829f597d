package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/pkg/resilience"
)

func newRedisStore(t *testing.T) *resilience.RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := resilience.NewRedisStore(client)
	require.NoError(t, err)
	return store
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	t.Run("nil client rejected", func(t *testing.T) {
		t.Parallel()

		store, err := resilience.NewRedisStore(nil)
		assert.ErrorIs(t, err, resilience.ErrStoreNil)
		assert.Nil(t, store)
	})

	t.Run("unknown target is closed", func(t *testing.T) {
		t.Parallel()

		store := newRedisStore(t)

		st, err := store.Get(context.Background(), "never-seen")
		require.NoError(t, err)
		assert.Equal(t, resilience.StateClosed, st.State)
		assert.Zero(t, st.Failures)
	})

	t.Run("put and get round trip", func(t *testing.T) {
		t.Parallel()

		store := newRedisStore(t)
		ctx := context.Background()

		want := resilience.BreakerState{
			State:       resilience.StateOpen,
			Failures:    5,
			LastFailure: time.Now().UTC().Truncate(time.Second),
			NextAttempt: time.Now().UTC().Add(time.Minute).Truncate(time.Second),
		}
		require.NoError(t, store.Put(ctx, "instagram", want))

		got, err := store.Get(ctx, "instagram")
		require.NoError(t, err)
		assert.Equal(t, want.State, got.State)
		assert.Equal(t, want.Failures, got.Failures)
		assert.True(t, want.NextAttempt.Equal(got.NextAttempt))
	})

	t.Run("reset removes state and index entry", func(t *testing.T) {
		t.Parallel()

		store := newRedisStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "x", resilience.BreakerState{State: resilience.StateOpen}))
		require.NoError(t, store.Reset(ctx, "x"))

		st, err := store.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, resilience.StateClosed, st.State)

		targets, err := store.Targets(ctx)
		require.NoError(t, err)
		assert.Empty(t, targets)
	})

	t.Run("targets lists recorded targets", func(t *testing.T) {
		t.Parallel()

		store := newRedisStore(t)
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "a", resilience.BreakerState{State: resilience.StateClosed}))
		require.NoError(t, store.Put(ctx, "b", resilience.BreakerState{State: resilience.StateOpen}))

		targets, err := store.Targets(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, targets)
	})
}

func TestBreaker_OverRedisStore(t *testing.T) {
	t.Parallel()

	store := newRedisStore(t)
	b, err := resilience.NewBreaker(store, resilience.WithFailureThreshold(2), resilience.WithCooldown(time.Hour))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.RecordFailure(ctx, "x"))
	require.NoError(t, b.RecordFailure(ctx, "x"))

	allowed, err := b.Allow(ctx, "x")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A second breaker over the same store observes the open circuit
	other, err := resilience.NewBreaker(store, resilience.WithFailureThreshold(2), resilience.WithCooldown(time.Hour))
	require.NoError(t, err)

	allowed, err = other.Allow(ctx, "x")
	require.NoError(t, err)
	assert.False(t, allowed, "circuit state must be shared across processes")
}
