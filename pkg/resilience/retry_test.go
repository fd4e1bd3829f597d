package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/pkg/resilience"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	fastBackoff := resilience.FixedBackoff{Interval: time.Millisecond}

	t.Run("succeeds first attempt", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			return nil
		}, resilience.WithBackoff(fastBackoff))

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient errors up to cap", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			return resilience.Transient(errors.New("connection reset"))
		}, resilience.WithMaxAttempts(3), resilience.WithBackoff(fastBackoff))

		assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
		assert.Equal(t, 3, calls)
	})

	t.Run("transient twice then success", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return resilience.Transient(errors.New("timeout"))
			}
			return nil
		}, resilience.WithMaxAttempts(3), resilience.WithBackoff(fastBackoff))

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()

		calls := 0
		cause := errors.New("invalid grant")
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			return resilience.Permanent(cause)
		}, resilience.WithBackoff(fastBackoff))

		assert.ErrorIs(t, err, resilience.ErrPermanent)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, calls)
	})

	t.Run("plain errors are not retried by default", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("validation failed")
		}, resilience.WithBackoff(fastBackoff))

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("custom classifier", func(t *testing.T) {
		t.Parallel()

		retryAll := func(err error) bool { return err != nil }

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("anything")
		},
			resilience.WithMaxAttempts(2),
			resilience.WithBackoff(fastBackoff),
			resilience.WithClassifier(retryAll),
		)

		assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
		assert.Equal(t, 2, calls)
	})

	t.Run("context cancellation stops retrying", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		err := resilience.Retry(ctx, func(ctx context.Context) error {
			calls++
			cancel()
			return resilience.Transient(errors.New("flaky"))
		}, resilience.WithMaxAttempts(5), resilience.WithBackoff(resilience.FixedBackoff{Interval: 10 * time.Millisecond}))

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempt timeout bounds each call", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := resilience.Retry(context.Background(), func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		},
			resilience.WithMaxAttempts(2),
			resilience.WithBackoff(fastBackoff),
			resilience.WithAttemptTimeout(5*time.Millisecond),
		)

		// DeadlineExceeded is classified transient, so both attempts run
		assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
		assert.Equal(t, 2, calls)
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := resilience.ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}

	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, time.Second, b.NextInterval(1))
	assert.Equal(t, 2*time.Second, b.NextInterval(2))
	assert.Equal(t, 4*time.Second, b.NextInterval(3))
	assert.Equal(t, 8*time.Second, b.NextInterval(4))
	assert.Equal(t, 10*time.Second, b.NextInterval(5), "interval must be capped")
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	t.Parallel()

	b := resilience.ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
		JitterFactor:    0.5,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		interval := b.NextInterval(attempt)
		base := time.Duration(float64(time.Second) * float64(int(1)<<(attempt-1)))
		assert.GreaterOrEqual(t, interval, base/2)
		assert.LessOrEqual(t, interval, base*3/2)
	}
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	assert.False(t, resilience.DefaultClassifier(nil))
	assert.False(t, resilience.DefaultClassifier(errors.New("plain")))
	assert.False(t, resilience.DefaultClassifier(context.Canceled))
	assert.True(t, resilience.DefaultClassifier(context.DeadlineExceeded))
	assert.True(t, resilience.DefaultClassifier(resilience.Transient(errors.New("x"))))
	assert.False(t, resilience.DefaultClassifier(resilience.Permanent(errors.New("x"))))
}
