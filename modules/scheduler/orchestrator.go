package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/postflow/pkg/queue"
	"github.com/dmitrymomot/postflow/pkg/resilience"
)

// JobQueue is the slice of the delay queue the orchestrator uses.
// *queue.Enqueuer satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
	Remove(ctx context.Context, key string) error
	Reschedule(ctx context.Context, key string, payload any, opts ...queue.EnqueueOption) error
}

// AccountChecker verifies that a social account exists, belongs to the user,
// and is active. The credential manager satisfies it.
type AccountChecker interface {
	CheckUsable(ctx context.Context, userID, accountID uuid.UUID) error
}

// Orchestrator coordinates post rows and publish jobs. Creation is
// transactional: the row commits only if the job was enqueued, so there is
// never a scheduled row without a job or a job without a row at create time.
type Orchestrator struct {
	repo     PostRepository
	jobs     JobQueue
	accounts AccountChecker
	logger   *slog.Logger

	queueName      string
	maxRetries     int8
	acquireTimeout time.Duration
	runTimeout     time.Duration
}

// OrchestratorOption is a functional option for configuring an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithQueueName sets the queue publish jobs are routed to
func WithQueueName(name string) OrchestratorOption {
	return func(o *Orchestrator) {
		if name != "" {
			o.queueName = name
		}
	}
}

// WithPublishMaxRetries sets the retry budget for publish jobs (0-10)
func WithPublishMaxRetries(n int8) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 && n <= 10 {
			o.maxRetries = n
		}
	}
}

// WithLogger sets the logger for the orchestrator
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates a scheduling orchestrator
func NewOrchestrator(repo PostRepository, jobs JobQueue, accounts AccountChecker, opts ...OrchestratorOption) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("post repository cannot be nil")
	}
	if jobs == nil {
		return nil, errors.New("job queue cannot be nil")
	}
	if accounts == nil {
		return nil, errors.New("account checker cannot be nil")
	}

	o := &Orchestrator{
		repo:           repo,
		jobs:           jobs,
		accounts:       accounts,
		logger:         slog.Default(),
		queueName:      "publish",
		maxRetries:     3,
		acquireTimeout: 5 * time.Second,
		runTimeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Create validates the draft, inserts the post row, and enqueues its publish
// job inside one logical transaction. If the enqueue fails after retries the
// row is rolled back and ErrSchedulingFailed is returned: no orphan row, no
// orphan job.
func (o *Orchestrator) Create(ctx context.Context, userID uuid.UUID, draft Draft) (*Post, error) {
	if err := o.validateDraft(draft); err != nil {
		return nil, err
	}

	if err := o.accounts.CheckUsable(ctx, userID, draft.SocialAccountID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccountNotUsable, err)
	}

	now := time.Now()
	post := &Post{
		ID:              uuid.New(),
		UserID:          userID,
		SocialAccountID: draft.SocialAccountID,
		Platform:        draft.Platform,
		Content:         draft.Content,
		MediaURL:        draft.MediaURL,
		MediaType:       draft.MediaType,
		CarouselItems:   draft.CarouselItems,
		ScheduledAt:     draft.ScheduledAt,
		Status:          PostStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	txCtx, cancel := context.WithTimeout(ctx, o.acquireTimeout)
	tx, err := o.repo.BeginCreate(txCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to start post creation: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	if err := tx.Insert(runCtx, post); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to insert post: %w", err)
	}

	if err := o.enqueuePublish(runCtx, post); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		o.logger.ErrorContext(ctx, "failed to enqueue publish job, post rolled back",
			slog.String("post_id", post.ID.String()),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrSchedulingFailed, err)
	}

	// The job exists, so the committed row must say scheduled, not pending
	if err := tx.MarkScheduled(runCtx, post.ID); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to mark post scheduled: %w", err)
	}
	post.Status = PostStatusScheduled

	if err := tx.Commit(runCtx); err != nil {
		// The job is already enqueued; the worker drops jobs whose post row
		// is missing, so the leaked job is harmless.
		return nil, fmt.Errorf("failed to commit post: %w", err)
	}

	o.logger.InfoContext(ctx, "post scheduled",
		slog.String("post_id", post.ID.String()),
		slog.String("platform", post.Platform),
		slog.Time("scheduled_at", post.ScheduledAt))

	return post, nil
}

// enqueuePublish enqueues the publish job with retries around transient
// queue errors. A duplicate key means a live job already exists for this
// post id, which cannot be fixed by retrying.
func (o *Orchestrator) enqueuePublish(ctx context.Context, post *Post) error {
	payload := NewPublishTask(post)
	delay := o.publishDelay(post.ScheduledAt)

	return resilience.Retry(ctx, func(ctx context.Context) error {
		err := o.jobs.Enqueue(ctx, payload,
			queue.WithKey(TaskKey(post.ID)),
			queue.WithQueue(o.queueName),
			queue.WithDelay(delay),
			queue.WithMaxRetries(o.maxRetries),
		)
		if err == nil {
			return nil
		}
		if errors.Is(err, queue.ErrDuplicateTask) {
			return resilience.Permanent(err)
		}
		// Anything else is queue infrastructure trouble, worth another try
		return resilience.Transient(err)
	}, resilience.WithMaxAttempts(3))
}

// UpdateDraft carries the mutable fields of a pending post. Nil pointers
// leave the current value untouched; ScheduledAt zero means unchanged.
type UpdateDraft struct {
	Content       *string
	MediaURL      *string
	MediaType     *string
	CarouselItems []CarouselItem
	ScheduledAt   time.Time
}

// Update mutates a pending post. When the schedule changes the job is
// rescheduled first; a queue failure there is logged and the row update
// proceeds anyway. The row is the source of truth, and the worker re-checks
// it before publishing, so a stale job self-corrects.
func (o *Orchestrator) Update(ctx context.Context, userID, postID uuid.UUID, draft UpdateDraft) (*Post, error) {
	post, err := o.repo.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrNotPostOwner
	}
	if !post.AwaitingPublish() {
		return nil, ErrPostNotPending
	}

	if draft.Content != nil {
		post.Content = *draft.Content
	}
	if draft.MediaURL != nil {
		post.MediaURL = draft.MediaURL
	}
	if draft.MediaType != nil {
		post.MediaType = draft.MediaType
	}
	if draft.CarouselItems != nil {
		post.CarouselItems = draft.CarouselItems
	}

	rescheduled := false
	if !draft.ScheduledAt.IsZero() && !draft.ScheduledAt.Equal(post.ScheduledAt) {
		if !draft.ScheduledAt.After(time.Now()) {
			return nil, ErrScheduledTimeInPast
		}
		post.ScheduledAt = draft.ScheduledAt
		rescheduled = true
	}

	if rescheduled {
		payload := NewPublishTask(post)
		err := o.jobs.Reschedule(ctx, TaskKey(post.ID), payload,
			queue.WithQueue(o.queueName),
			queue.WithDelay(o.publishDelay(post.ScheduledAt)),
			queue.WithMaxRetries(o.maxRetries),
		)
		if err != nil {
			o.logger.ErrorContext(ctx, "failed to reschedule publish job, updating row anyway",
				slog.String("post_id", post.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if err := o.repo.UpdatePending(ctx, post); err != nil {
		return nil, err
	}

	return post, nil
}

// Remove cancels a post. The job is removed first; removal of an
// already-claimed job is best-effort and the worker's row re-check catches
// the race. Then the row is deleted.
func (o *Orchestrator) Remove(ctx context.Context, userID, postID uuid.UUID) error {
	post, err := o.repo.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return ErrNotPostOwner
	}

	if err := o.jobs.Remove(ctx, TaskKey(postID)); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
		o.logger.WarnContext(ctx, "failed to remove publish job, deleting row anyway",
			slog.String("post_id", postID.String()),
			slog.String("error", err.Error()))
	}

	return o.repo.Delete(ctx, postID)
}

// Get returns a post owned by the user
func (o *Orchestrator) Get(ctx context.Context, userID, postID uuid.UUID) (*Post, error) {
	post, err := o.repo.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrNotPostOwner
	}
	return post, nil
}

// List returns a page of the user's posts
func (o *Orchestrator) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return o.repo.ListByUser(ctx, userID, limit, offset)
}

// publishDelay floors the enqueue delay at the transaction run budget so a
// job cannot come due before the row write that accompanies it commits.
func (o *Orchestrator) publishDelay(scheduledAt time.Time) time.Duration {
	delay := time.Until(scheduledAt)
	if delay < o.runTimeout {
		delay = o.runTimeout
	}
	return delay
}

func (o *Orchestrator) validateDraft(draft Draft) error {
	if strings.TrimSpace(draft.Content) == "" && draft.MediaURL == nil && len(draft.CarouselItems) == 0 {
		return ErrEmptyContent
	}
	if !draft.ScheduledAt.After(time.Now()) {
		return ErrScheduledTimeInPast
	}
	return nil
}
