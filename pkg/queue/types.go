package queue

import (
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeOneTime  TaskType = "one-time"
	TaskTypePeriodic TaskType = "periodic"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Default retry backoff shape. Delay before retry n is
// BackoffBase * 2^(n-1), capped at DefaultBackoffCap.
const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffCap  = 10 * time.Minute
)

// Task represents a task in the queue.
//
// Key is the caller-supplied idempotency handle: at most one live task
// (pending or processing) may carry a given key, so re-enqueueing a key is
// rejected until the previous task was removed or finished. Rescheduling is
// remove-then-enqueue under the same key, never in-place mutation.
type Task struct {
	ID          uuid.UUID     `json:"id"`
	Key         string        `json:"key,omitempty"`
	Queue       string        `json:"queue"`
	TaskType    TaskType      `json:"task_type"`
	TaskName    string        `json:"task_name"`
	Payload     []byte        `json:"payload,omitempty"`
	Status      TaskStatus    `json:"status"`
	RetryCount  int8          `json:"retry_count"`
	MaxRetries  int8          `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID    `json:"locked_by,omitempty"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RetryBackoff returns the delay before the task's next attempt given the
// number of failures recorded so far.
func (t *Task) RetryBackoff() time.Duration {
	base := t.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}

	delay := base
	for i := int8(1); i < t.RetryCount; i++ {
		delay *= 2
		if delay >= DefaultBackoffCap {
			return DefaultBackoffCap
		}
	}
	if delay > DefaultBackoffCap {
		delay = DefaultBackoffCap
	}
	return delay
}

// DeadTask is a task that exhausted all retries, retained for operator
// inspection and manual requeue instead of being discarded.
type DeadTask struct {
	ID           uuid.UUID `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	Key          string    `json:"key,omitempty"`
	Queue        string    `json:"queue"`
	TaskType     TaskType  `json:"task_type"`
	TaskName     string    `json:"task_name"`
	Payload      []byte    `json:"payload,omitempty"`
	FailedReason string    `json:"failed_reason"`
	RetryCount   int8      `json:"retry_count"`
	MaxRetries   int8      `json:"max_retries"`
	FailedAt     time.Time `json:"failed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats is a point-in-time snapshot of queue depth for the operational
// surface. Waiting counts due pending tasks, Delayed counts pending tasks
// scheduled in the future, Failed counts dead-letter tasks.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
