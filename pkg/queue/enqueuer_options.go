package queue

import (
	"log/slog"
	"time"
)

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultQueue string
	logger       *slog.Logger
}

// WithDefaultQueue sets the default queue name
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithEnqueuerLogger sets the logger for the enqueuer
func WithEnqueuerLogger(logger *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	key         string
	queue       string
	maxRetries  int8
	backoffBase time.Duration
	delay       time.Duration
	scheduledAt *time.Time
	taskName    string
}

// WithKey sets the unique key for the task. At most one live task may hold
// a key at any time.
func WithKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		if key != "" {
			o.key = key
		}
	}
}

// WithQueue sets the queue for the task
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithMaxRetries sets the maximum number of retries (0-10)
// Capped at 10 to prevent infinite retry loops on persistent failures
func WithMaxRetries(maxRetries int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

// WithBackoffBase sets the first retry delay; subsequent delays double,
// capped at DefaultBackoffCap
func WithBackoffBase(base time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if base > 0 {
			o.backoffBase = base
		}
	}
}

// WithDelay sets a delay before the task can be processed
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithScheduledAt sets a specific time for the task to be processed
func WithScheduledAt(scheduledAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &scheduledAt
	}
}

// WithTaskName sets a custom task name
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.taskName = name
		}
	}
}
