package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the storage interface for task creation and removal
type EnqueuerRepository interface {
	// CreateTask creates a new task. Returns ErrDuplicateTask when a live
	// task (pending or processing) already holds the same key.
	CreateTask(ctx context.Context, task *Task) error

	// RemoveTaskByKey cancels a not-yet-claimed task with the given key.
	// Returns ErrTaskNotFound when no live pending task matches.
	RemoveTaskByKey(ctx context.Context, key string) error
}

// Enqueuer handles task enqueueing, removal, and rescheduling
type Enqueuer struct {
	repo         EnqueuerRepository
	defaultQueue string
	logger       *slog.Logger
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue: DefaultQueueName,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:         repo,
		defaultQueue: options.defaultQueue,
		logger:       options.logger,
	}, nil
}

// Enqueue schedules exactly one pending delivery of payload, no earlier than
// now plus the configured delay. A second enqueue under the same live key
// returns ErrDuplicateTask.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:       e.defaultQueue,
		maxRetries:  3,
		backoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(options)
	}

	task, err := e.buildTask(payload, options)
	if err != nil {
		return err
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			return fmt.Errorf("task with key %q: %w", task.Key, ErrDuplicateTask)
		}
		return fmt.Errorf("failed to create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}

	return nil
}

// Remove cancels a not-yet-delivered task by key. Delivery already handed to
// a worker cannot be recalled; callers must treat removal as best-effort for
// in-flight tasks.
func (e *Enqueuer) Remove(ctx context.Context, key string) error {
	if err := e.repo.RemoveTaskByKey(ctx, key); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return err
		}
		return fmt.Errorf("failed to remove task with key %q: %w", key, err)
	}
	return nil
}

// Reschedule moves the task with the given key to a new delivery time by
// removing it and enqueueing a replacement. A missing original (already
// delivered, or never enqueued) does not block the new enqueue; both halves
// are idempotent on their own.
func (e *Enqueuer) Reschedule(ctx context.Context, key string, payload any, opts ...EnqueueOption) error {
	if err := e.repo.RemoveTaskByKey(ctx, key); err != nil && !errors.Is(err, ErrTaskNotFound) {
		e.logger.WarnContext(ctx, "failed to remove task during reschedule, enqueueing replacement anyway",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}

	opts = append(opts, WithKey(key))
	return e.Enqueue(ctx, payload, opts...)
}

// buildTask constructs a Task from payload and options
func (e *Enqueuer) buildTask(payload any, options *enqueueOptions) (*Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	taskName := options.taskName
	if taskName == "" {
		taskName = qualifiedStructName(payload)
	}

	scheduledAt := time.Now()
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Task{
		ID:          uuid.New(),
		Key:         options.key,
		Queue:       options.queue,
		TaskType:    TaskTypeOneTime,
		TaskName:    taskName,
		Payload:     payloadBytes,
		Status:      TaskStatusPending,
		RetryCount:  0,
		MaxRetries:  options.maxRetries,
		BackoffBase: options.backoffBase,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}, nil
}
