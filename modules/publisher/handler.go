package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/postflow/modules/credential"
	"github.com/dmitrymomot/postflow/modules/scheduler"
	"github.com/dmitrymomot/postflow/pkg/ledger"
	"github.com/dmitrymomot/postflow/pkg/queue"
	"github.com/dmitrymomot/postflow/pkg/resilience"
)

// PostStore is the slice of the post repository the worker needs.
// *scheduler.PostgresPostRepository satisfies it.
type PostStore interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduler.Post, error)
	SetProcessing(ctx context.Context, id uuid.UUID) error
	SetSuccess(ctx context.Context, id uuid.UUID, externalPostID, permalink string) error
	SetFailed(ctx context.Context, id uuid.UUID, errorMessage string, externalPostID *string) error
}

// TokenProvider resolves access tokens for social accounts.
// *credential.Manager satisfies it.
type TokenProvider interface {
	AccessToken(ctx context.Context, accountID uuid.UUID) (string, error)
}

// Worker executes publish jobs. It is the only component that talks to the
// platforms, always through the resilience executor, and the only one that
// writes terminal post outcomes and ledger marks.
type Worker struct {
	posts      PostStore
	tokens     TokenProvider
	ledger     ledger.Ledger
	executor   *resilience.Executor
	publishers map[string]PlatformPublisher
	logger     *slog.Logger
}

// WorkerOption is a functional option for configuring a publish Worker
type WorkerOption func(*Worker)

// WithPublisher registers a platform adapter
func WithPublisher(p PlatformPublisher) WorkerOption {
	return func(w *Worker) {
		if p != nil {
			w.publishers[p.Platform()] = p
		}
	}
}

// WithWorkerLogger sets the logger for the publish worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorker creates a publish worker
func NewWorker(posts PostStore, tokens TokenProvider, led ledger.Ledger, executor *resilience.Executor, opts ...WorkerOption) (*Worker, error) {
	if posts == nil {
		return nil, errors.New("post store cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token provider cannot be nil")
	}
	if led == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}

	w := &Worker{
		posts:      posts,
		tokens:     tokens,
		ledger:     led,
		executor:   executor,
		publishers: make(map[string]PlatformPublisher),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Handler returns the queue handler for publish tasks. Its name matches the
// scheduler.PublishTask payload type, which is what the orchestrator enqueues.
func (w *Worker) Handler() queue.Handler {
	return queue.NewTaskHandler(w.Handle)
}

// ledgerID is the idempotency key for a publish job. Scoped with a prefix so
// other job families can share the ledger store.
func ledgerID(postID uuid.UUID) string {
	return "publish:" + postID.String()
}

// Handle processes one publish job. Returning nil tells the queue the
// delivery is done, even for terminal failures; returning an error hands the
// job back to the queue's retry policy. The ledger is marked only on
// terminal outcomes, so a crash mid-publish leads to a redelivery that is
// dropped here, not a double post.
func (w *Worker) Handle(ctx context.Context, task scheduler.PublishTask) error {
	log := w.logger.With(
		slog.String("post_id", task.PostID.String()),
		slog.String("platform", task.Platform))

	done, err := w.ledger.IsProcessed(ctx, ledgerID(task.PostID))
	if err != nil {
		return fmt.Errorf("ledger check failed: %w", err)
	}
	if done {
		log.InfoContext(ctx, "duplicate delivery dropped, job already processed")
		return nil
	}

	post, err := w.posts.Get(ctx, task.PostID)
	if err != nil {
		if errors.Is(err, scheduler.ErrPostNotFound) {
			// Row deleted after enqueue, or a create whose commit failed
			log.InfoContext(ctx, "post row missing, dropping job")
			return nil
		}
		return fmt.Errorf("failed to load post: %w", err)
	}
	if post.Terminal() {
		log.InfoContext(ctx, "post already in terminal state, dropping job",
			slog.String("status", string(post.Status)))
		return w.markProcessed(ctx, task.PostID, log)
	}

	if err := w.posts.SetProcessing(ctx, task.PostID); err != nil {
		return fmt.Errorf("failed to mark post processing: %w", err)
	}

	token, err := w.tokens.AccessToken(ctx, task.SocialAccountID)
	if err != nil {
		return w.handleTokenError(ctx, task, err, log)
	}

	pub, ok := w.publishers[task.Platform]
	if !ok {
		return w.failTerminal(ctx, task.PostID,
			fmt.Sprintf("%v: %s", ErrNoPublisherForPlatform, task.Platform), nil, log)
	}

	// The worker trusts the row it just read over the payload snapshot for
	// content, so an update racing the job publishes the edited version
	req := PublishRequest{
		AccessToken:   token,
		Content:       post.Content,
		MediaURL:      post.MediaURL,
		MediaType:     post.MediaType,
		CarouselItems: post.CarouselItems,
	}

	var result *PublishResult
	err = w.executor.Do(ctx, task.Platform, func(ctx context.Context) error {
		res, err := pub.Publish(ctx, req)
		if err != nil {
			var pubErr *PublishError
			if errors.As(err, &pubErr) && !pubErr.Retryable {
				return resilience.Permanent(err)
			}
			return resilience.Transient(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return w.handlePublishError(ctx, task, err, log)
	}

	if err := w.posts.SetSuccess(ctx, task.PostID, result.ExternalPostID, result.Permalink); err != nil {
		return fmt.Errorf("failed to record publish success: %w", err)
	}

	log.InfoContext(ctx, "post published",
		slog.String("external_post_id", result.ExternalPostID))

	return w.markProcessed(ctx, task.PostID, log)
}

// handleTokenError maps credential failures to job outcomes. Terminal
// credential states fail the post; everything else goes back to the queue.
func (w *Worker) handleTokenError(ctx context.Context, task scheduler.PublishTask, err error, log *slog.Logger) error {
	switch {
	case errors.Is(err, credential.ErrReauthRequired),
		errors.Is(err, credential.ErrAccountInactive),
		errors.Is(err, credential.ErrAccountNotFound),
		errors.Is(err, credential.ErrPlatformNotConfigured):
		// The manager already deactivated the account where that applies
		return w.failTerminal(ctx, task.PostID, "credential error: "+err.Error(), nil, log)
	default:
		log.WarnContext(ctx, "transient credential failure, job will retry",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to resolve access token: %w", err)
	}
}

// handlePublishError maps platform call failures to job outcomes
func (w *Worker) handlePublishError(ctx context.Context, task scheduler.PublishTask, err error, log *slog.Logger) error {
	var pubErr *PublishError
	if errors.As(err, &pubErr) && !pubErr.Retryable {
		var externalID *string
		if pubErr.ExternalPostID != "" {
			externalID = &pubErr.ExternalPostID
		}
		return w.failTerminal(ctx, task.PostID, pubErr.Message, externalID, log)
	}

	// Circuit open, retries exhausted on transient errors, timeouts: all go
	// back to the queue's backoff schedule without a ledger mark
	log.WarnContext(ctx, "publish attempt failed, job will retry",
		slog.String("error", err.Error()))
	return err
}

// failTerminal writes the failed outcome and marks the ledger
func (w *Worker) failTerminal(ctx context.Context, postID uuid.UUID, message string, externalID *string, log *slog.Logger) error {
	if err := w.posts.SetFailed(ctx, postID, message, externalID); err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}

	log.WarnContext(ctx, "post failed terminally", slog.String("reason", message))

	return w.markProcessed(ctx, postID, log)
}

// markProcessed records the terminal outcome in the ledger. A ledger write
// failure is returned so the queue redelivers; the redelivered job then
// finds the post terminal and only re-attempts the mark.
func (w *Worker) markProcessed(ctx context.Context, postID uuid.UUID, log *slog.Logger) error {
	if err := w.ledger.MarkProcessed(ctx, ledgerID(postID)); err != nil {
		log.ErrorContext(ctx, "failed to mark job processed",
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to mark job processed: %w", err)
	}
	return nil
}
