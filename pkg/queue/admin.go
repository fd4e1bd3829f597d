package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// AdminRepository defines the storage interface for operational inspection
// and manual intervention.
type AdminRepository interface {
	// Stats returns queue depth counts for one queue, or across all queues
	// when queue is empty.
	Stats(ctx context.Context, queue string) (Stats, error)

	// SetQueuePaused pauses or resumes claiming from a queue. The flag is
	// stored with the tasks so every worker process observes it.
	SetQueuePaused(ctx context.Context, queue string, paused bool) error

	// ListDeadTasks returns retained dead-letter tasks, newest first.
	ListDeadTasks(ctx context.Context, queue string, limit int) ([]DeadTask, error)

	// RequeueDeadTask moves a dead-letter task back to pending with a fresh
	// retry budget. Returns ErrDeadTaskNotFound for unknown ids.
	RequeueDeadTask(ctx context.Context, id uuid.UUID) error
}

// Admin exposes the queue's operational surface: statistics, pause/resume,
// and manual retry of dead-letter tasks.
type Admin struct {
	repo   AdminRepository
	logger *slog.Logger
}

// NewAdmin creates an Admin over the given repository
func NewAdmin(repo AdminRepository, opts ...AdminOption) (*Admin, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	a := &Admin{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AdminOption is a functional option for configuring an Admin
type AdminOption func(*Admin)

// WithAdminLogger sets the logger for administrative operations
func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(a *Admin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Stats returns queue depth counts
func (a *Admin) Stats(ctx context.Context, queue string) (Stats, error) {
	return a.repo.Stats(ctx, queue)
}

// Pause stops workers from claiming tasks in the queue; already-claimed
// tasks finish their current attempt.
func (a *Admin) Pause(ctx context.Context, queue string) error {
	if err := a.repo.SetQueuePaused(ctx, queue, true); err != nil {
		return fmt.Errorf("failed to pause queue %q: %w", queue, err)
	}
	a.logger.InfoContext(ctx, "queue paused", slog.String("queue", queue))
	return nil
}

// Resume re-enables claiming from a paused queue
func (a *Admin) Resume(ctx context.Context, queue string) error {
	if err := a.repo.SetQueuePaused(ctx, queue, false); err != nil {
		return fmt.Errorf("failed to resume queue %q: %w", queue, err)
	}
	a.logger.InfoContext(ctx, "queue resumed", slog.String("queue", queue))
	return nil
}

// DeadTasks lists retained dead-letter tasks for inspection
func (a *Admin) DeadTasks(ctx context.Context, queue string, limit int) ([]DeadTask, error) {
	if limit <= 0 {
		limit = 50
	}
	return a.repo.ListDeadTasks(ctx, queue, limit)
}

// RetryDeadTask requeues a specific dead-letter task for another run
func (a *Admin) RetryDeadTask(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.RequeueDeadTask(ctx, id); err != nil {
		if errors.Is(err, ErrDeadTaskNotFound) {
			return err
		}
		return fmt.Errorf("failed to requeue dead task %s: %w", id, err)
	}

	a.logger.InfoContext(ctx, "dead task requeued", slog.String("dead_task_id", id.String()))
	return nil
}
