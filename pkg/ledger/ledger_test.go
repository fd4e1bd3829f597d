package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/pkg/ledger"
)

// ledgerContract runs the behavior shared by every Ledger implementation.
func ledgerContract(t *testing.T, l ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown id is not processed", func(t *testing.T) {
		done, err := l.IsProcessed(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("mark then check", func(t *testing.T) {
		require.NoError(t, l.MarkProcessed(ctx, "post-1"))

		done, err := l.IsProcessed(ctx, "post-1")
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("mark is idempotent", func(t *testing.T) {
		require.NoError(t, l.MarkProcessed(ctx, "post-2"))
		require.NoError(t, l.MarkProcessed(ctx, "post-2"))

		done, err := l.IsProcessed(ctx, "post-2")
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("unmark allows reprocessing", func(t *testing.T) {
		require.NoError(t, l.MarkProcessed(ctx, "post-3"))
		require.NoError(t, l.Unmark(ctx, "post-3"))

		done, err := l.IsProcessed(ctx, "post-3")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("unmark of unknown id is a no-op", func(t *testing.T) {
		assert.NoError(t, l.Unmark(ctx, "never-marked"))
	})
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	ledgerContract(t, ledger.NewMemoryLedger())
}

func TestMemoryLedger_TTL(t *testing.T) {
	t.Parallel()

	l := ledger.NewMemoryLedger(ledger.WithMemoryTTL(10 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, "post-1"))

	done, err := l.IsProcessed(ctx, "post-1")
	require.NoError(t, err)
	require.True(t, done)

	time.Sleep(20 * time.Millisecond)

	done, err = l.IsProcessed(ctx, "post-1")
	require.NoError(t, err)
	assert.False(t, done, "marker must expire after TTL")
}

func TestRedisLedger(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := ledger.NewRedisLedger(client)
	require.NoError(t, err)

	ledgerContract(t, l)
}

func TestRedisLedger_TTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := ledger.NewRedisLedger(client, ledger.WithTTL(time.Minute))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.MarkProcessed(ctx, "post-1"))

	// miniredis lets tests advance the clock past the TTL
	mr.FastForward(2 * time.Minute)

	done, err := l.IsProcessed(ctx, "post-1")
	require.NoError(t, err)
	assert.False(t, done, "marker must expire after TTL")
}

func TestNewRedisLedger_NilClient(t *testing.T) {
	t.Parallel()

	l, err := ledger.NewRedisLedger(nil)
	assert.ErrorIs(t, err, ledger.ErrClientNil)
	assert.Nil(t, l)
}
