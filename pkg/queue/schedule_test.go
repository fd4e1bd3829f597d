package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/postflow/pkg/queue"
)

func TestSchedules(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC) // Monday

	t.Run("interval", func(t *testing.T) {
		t.Parallel()

		s := queue.EveryInterval(15 * time.Minute)
		assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
		assert.Equal(t, "every 15m0s", s.String())
	})

	t.Run("every minutes", func(t *testing.T) {
		t.Parallel()

		s := queue.EveryMinutes(5)
		assert.Equal(t, base.Add(5*time.Minute), s.Next(base))
	})

	t.Run("hourly at minute before now rolls to next hour", func(t *testing.T) {
		t.Parallel()

		s := queue.HourlyAt(15)
		next := s.Next(base) // 14:30 -> 15:15
		assert.Equal(t, time.Date(2025, time.March, 10, 15, 15, 0, 0, time.UTC), next)
	})

	t.Run("hourly at minute after now stays in hour", func(t *testing.T) {
		t.Parallel()

		s := queue.HourlyAt(45)
		next := s.Next(base) // 14:30 -> 14:45
		assert.Equal(t, time.Date(2025, time.March, 10, 14, 45, 0, 0, time.UTC), next)
	})

	t.Run("daily at time already past rolls to tomorrow", func(t *testing.T) {
		t.Parallel()

		s := queue.DailyAt(2, 0)
		next := s.Next(base)
		assert.Equal(t, time.Date(2025, time.March, 11, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("daily at future time stays today", func(t *testing.T) {
		t.Parallel()

		s := queue.DailyAt(23, 0)
		next := s.Next(base)
		assert.Equal(t, time.Date(2025, time.March, 10, 23, 0, 0, 0, time.UTC), next)
	})
}
