package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/modules/scheduler"
	"github.com/dmitrymomot/postflow/pkg/queue"
)

type MockPostRepository struct {
	mock.Mock
}

func (m *MockPostRepository) BeginCreate(ctx context.Context) (scheduler.PostTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(scheduler.PostTx), args.Error(1)
}

func (m *MockPostRepository) Get(ctx context.Context, id uuid.UUID) (*scheduler.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheduler.Post), args.Error(1)
}

func (m *MockPostRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]scheduler.Post, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scheduler.Post), args.Error(1)
}

func (m *MockPostRepository) UpdatePending(ctx context.Context, post *scheduler.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *MockPostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockPostTx struct {
	mock.Mock
}

func (m *MockPostTx) Insert(ctx context.Context, post *scheduler.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

func (m *MockPostTx) MarkScheduled(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPostTx) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPostTx) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockJobQueue) Remove(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockJobQueue) Reschedule(ctx context.Context, key string, payload any, opts ...queue.EnqueueOption) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

type MockAccountChecker struct {
	mock.Mock
}

func (m *MockAccountChecker) CheckUsable(ctx context.Context, userID, accountID uuid.UUID) error {
	args := m.Called(ctx, userID, accountID)
	return args.Error(0)
}

func validDraft() scheduler.Draft {
	return scheduler.Draft{
		SocialAccountID: uuid.New(),
		Platform:        "instagram",
		Content:         "hello world",
		ScheduledAt:     time.Now().Add(2 * time.Minute),
	}
}

func newOrchestrator(t *testing.T, repo *MockPostRepository, jobs *MockJobQueue, accounts *MockAccountChecker) *scheduler.Orchestrator {
	t.Helper()
	o, err := scheduler.NewOrchestrator(repo, jobs, accounts)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_Create(t *testing.T) {
	t.Parallel()

	t.Run("inserts row and enqueues job", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		accounts := new(MockAccountChecker)
		tx := new(MockPostTx)
		defer repo.AssertExpectations(t)
		defer jobs.AssertExpectations(t)
		defer tx.AssertExpectations(t)

		userID := uuid.New()
		draft := validDraft()

		accounts.On("CheckUsable", mock.Anything, userID, draft.SocialAccountID).Return(nil)
		repo.On("BeginCreate", mock.Anything).Return(tx, nil)
		tx.On("Insert", mock.Anything, mock.AnythingOfType("*scheduler.Post")).Return(nil)
		jobs.On("Enqueue", mock.Anything, mock.MatchedBy(func(p any) bool {
			task, ok := p.(scheduler.PublishTask)
			return ok && task.Content == draft.Content && task.Platform == draft.Platform
		})).Return(nil)
		tx.On("MarkScheduled", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(nil)
		tx.On("Commit", mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, jobs, accounts)

		post, err := o.Create(context.Background(), userID, draft)
		require.NoError(t, err)
		assert.Equal(t, scheduler.PostStatusScheduled, post.Status)
		assert.Equal(t, userID, post.UserID)
	})

	t.Run("scheduled time in past is rejected before any writes", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		accounts := new(MockAccountChecker)

		draft := validDraft()
		draft.ScheduledAt = time.Now().Add(-time.Minute)

		o := newOrchestrator(t, repo, jobs, accounts)

		_, err := o.Create(context.Background(), uuid.New(), draft)
		assert.ErrorIs(t, err, scheduler.ErrScheduledTimeInPast)
		repo.AssertNotCalled(t, "BeginCreate", mock.Anything)
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		t.Parallel()

		o := newOrchestrator(t, new(MockPostRepository), new(MockJobQueue), new(MockAccountChecker))

		draft := validDraft()
		draft.Content = "   "

		_, err := o.Create(context.Background(), uuid.New(), draft)
		assert.ErrorIs(t, err, scheduler.ErrEmptyContent)
	})

	t.Run("unusable account is rejected", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		accounts := new(MockAccountChecker)

		accounts.On("CheckUsable", mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("account disconnected"))

		o := newOrchestrator(t, repo, jobs, accounts)

		_, err := o.Create(context.Background(), uuid.New(), validDraft())
		assert.ErrorIs(t, err, scheduler.ErrAccountNotUsable)
		repo.AssertNotCalled(t, "BeginCreate", mock.Anything)
	})

	t.Run("enqueue failure rolls back the row", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		accounts := new(MockAccountChecker)
		tx := new(MockPostTx)
		defer tx.AssertExpectations(t)

		userID := uuid.New()
		draft := validDraft()

		accounts.On("CheckUsable", mock.Anything, userID, draft.SocialAccountID).Return(nil)
		repo.On("BeginCreate", mock.Anything).Return(tx, nil)
		tx.On("Insert", mock.Anything, mock.Anything).Return(nil)
		jobs.On("Enqueue", mock.Anything, mock.Anything).Return(queue.ErrDuplicateTask)
		tx.On("Rollback", mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, jobs, accounts)

		_, err := o.Create(context.Background(), userID, draft)
		assert.ErrorIs(t, err, scheduler.ErrSchedulingFailed)
		tx.AssertNotCalled(t, "Commit", mock.Anything)
	})

	t.Run("transient enqueue failure is retried", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		accounts := new(MockAccountChecker)
		tx := new(MockPostTx)
		defer jobs.AssertExpectations(t)

		userID := uuid.New()
		draft := validDraft()

		accounts.On("CheckUsable", mock.Anything, userID, draft.SocialAccountID).Return(nil)
		repo.On("BeginCreate", mock.Anything).Return(tx, nil)
		tx.On("Insert", mock.Anything, mock.Anything).Return(nil)
		jobs.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
		jobs.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
		tx.On("MarkScheduled", mock.Anything, mock.Anything).Return(nil)
		tx.On("Commit", mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, jobs, accounts)

		_, err := o.Create(context.Background(), userID, draft)
		require.NoError(t, err)
	})
}

func TestOrchestrator_Update(t *testing.T) {
	t.Parallel()

	pendingPost := func(userID uuid.UUID) *scheduler.Post {
		return &scheduler.Post{
			ID:          uuid.New(),
			UserID:      userID,
			Platform:    "instagram",
			Content:     "original",
			ScheduledAt: time.Now().Add(time.Hour),
			Status:      scheduler.PostStatusPending,
		}
	}

	t.Run("schedule change reschedules the job", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		defer jobs.AssertExpectations(t)

		userID := uuid.New()
		post := pendingPost(userID)
		newTime := time.Now().Add(3 * time.Hour)

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		jobs.On("Reschedule", mock.Anything, scheduler.TaskKey(post.ID), mock.Anything).Return(nil)
		repo.On("UpdatePending", mock.Anything, mock.MatchedBy(func(p *scheduler.Post) bool {
			return p.ScheduledAt.Equal(newTime)
		})).Return(nil)

		o := newOrchestrator(t, repo, jobs, new(MockAccountChecker))

		updated, err := o.Update(context.Background(), userID, post.ID, scheduler.UpdateDraft{ScheduledAt: newTime})
		require.NoError(t, err)
		assert.True(t, updated.ScheduledAt.Equal(newTime))
	})

	t.Run("queue failure does not block the row update", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		defer repo.AssertExpectations(t)

		userID := uuid.New()
		post := pendingPost(userID)

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		jobs.On("Reschedule", mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("queue down"))
		repo.On("UpdatePending", mock.Anything, mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, jobs, new(MockAccountChecker))

		_, err := o.Update(context.Background(), userID, post.ID,
			scheduler.UpdateDraft{ScheduledAt: time.Now().Add(2 * time.Hour)})
		require.NoError(t, err)
	})

	t.Run("content-only update leaves the job alone", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)

		userID := uuid.New()
		post := pendingPost(userID)
		content := "edited"

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		repo.On("UpdatePending", mock.Anything, mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, jobs, new(MockAccountChecker))

		updated, err := o.Update(context.Background(), userID, post.ID, scheduler.UpdateDraft{Content: &content})
		require.NoError(t, err)
		assert.Equal(t, "edited", updated.Content)
		jobs.AssertNotCalled(t, "Reschedule", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("scheduled post is still editable", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		userID := uuid.New()
		post := pendingPost(userID)
		post.Status = scheduler.PostStatusScheduled
		content := "edited"

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		repo.On("UpdatePending", mock.Anything, mock.Anything).Return(nil)

		o := newOrchestrator(t, repo, new(MockJobQueue), new(MockAccountChecker))

		updated, err := o.Update(context.Background(), userID, post.ID, scheduler.UpdateDraft{Content: &content})
		require.NoError(t, err)
		assert.Equal(t, "edited", updated.Content)
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		post := pendingPost(uuid.New())
		repo.On("Get", mock.Anything, post.ID).Return(post, nil)

		o := newOrchestrator(t, repo, new(MockJobQueue), new(MockAccountChecker))

		_, err := o.Update(context.Background(), uuid.New(), post.ID, scheduler.UpdateDraft{})
		assert.ErrorIs(t, err, scheduler.ErrNotPostOwner)
	})

	t.Run("terminal post is rejected", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		userID := uuid.New()
		post := pendingPost(userID)
		post.Status = scheduler.PostStatusSuccess
		repo.On("Get", mock.Anything, post.ID).Return(post, nil)

		o := newOrchestrator(t, repo, new(MockJobQueue), new(MockAccountChecker))

		_, err := o.Update(context.Background(), userID, post.ID, scheduler.UpdateDraft{})
		assert.ErrorIs(t, err, scheduler.ErrPostNotPending)
	})
}

func TestOrchestrator_Remove(t *testing.T) {
	t.Parallel()

	t.Run("removes job then deletes row", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		defer repo.AssertExpectations(t)
		defer jobs.AssertExpectations(t)

		userID := uuid.New()
		post := &scheduler.Post{ID: uuid.New(), UserID: userID, Status: scheduler.PostStatusPending}

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		jobs.On("Remove", mock.Anything, scheduler.TaskKey(post.ID)).Return(nil)
		repo.On("Delete", mock.Anything, post.ID).Return(nil)

		o := newOrchestrator(t, repo, jobs, new(MockAccountChecker))

		require.NoError(t, o.Remove(context.Background(), userID, post.ID))
	})

	t.Run("already-claimed job does not block row delete", func(t *testing.T) {
		t.Parallel()

		repo := new(MockPostRepository)
		jobs := new(MockJobQueue)
		defer repo.AssertExpectations(t)

		userID := uuid.New()
		post := &scheduler.Post{ID: uuid.New(), UserID: userID, Status: scheduler.PostStatusPending}

		repo.On("Get", mock.Anything, post.ID).Return(post, nil)
		jobs.On("Remove", mock.Anything, mock.Anything).Return(queue.ErrTaskNotFound)
		repo.On("Delete", mock.Anything, post.ID).Return(nil)

		o := newOrchestrator(t, repo, jobs, new(MockAccountChecker))

		require.NoError(t, o.Remove(context.Background(), userID, post.ID))
	})
}

func TestOrchestrator_CreateSchedulesDelayedTask(t *testing.T) {
	// Scenario check against real queue storage: a post scheduled two
	// minutes out leaves exactly one pending task due in ~120 seconds.
	storage := queue.NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	repo := new(MockPostRepository)
	accounts := new(MockAccountChecker)
	tx := new(MockPostTx)

	userID := uuid.New()
	draft := validDraft()

	accounts.On("CheckUsable", mock.Anything, userID, draft.SocialAccountID).Return(nil)
	repo.On("BeginCreate", mock.Anything).Return(tx, nil)
	tx.On("Insert", mock.Anything, mock.Anything).Return(nil)
	tx.On("MarkScheduled", mock.Anything, mock.Anything).Return(nil)
	tx.On("Commit", mock.Anything).Return(nil)

	o, err := scheduler.NewOrchestrator(repo, enqueuer, accounts)
	require.NoError(t, err)

	post, err := o.Create(ctx, userID, draft)
	require.NoError(t, err)
	assert.Equal(t, scheduler.PostStatusScheduled, post.Status)

	task, err := storage.GetPendingTaskByName(ctx, "scheduler.PublishTask")
	require.NoError(t, err)
	assert.Equal(t, scheduler.TaskKey(post.ID), task.Key)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), task.ScheduledAt, 5*time.Second)

	stats, err := storage.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting+stats.Delayed)
}

func TestOrchestrator_CreateFloorsNearImmediateDelay(t *testing.T) {
	// A post scheduled seconds out must not come due before its row
	// commits; the job delay is floored so the worker cannot claim it
	// mid-transaction and drop it as a missing post.
	storage := queue.NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	repo := new(MockPostRepository)
	accounts := new(MockAccountChecker)
	tx := new(MockPostTx)

	userID := uuid.New()
	draft := validDraft()
	draft.ScheduledAt = time.Now().Add(time.Second)

	accounts.On("CheckUsable", mock.Anything, userID, draft.SocialAccountID).Return(nil)
	repo.On("BeginCreate", mock.Anything).Return(tx, nil)
	tx.On("Insert", mock.Anything, mock.Anything).Return(nil)
	tx.On("MarkScheduled", mock.Anything, mock.Anything).Return(nil)
	tx.On("Commit", mock.Anything).Return(nil)

	o, err := scheduler.NewOrchestrator(repo, enqueuer, accounts)
	require.NoError(t, err)

	post, err := o.Create(ctx, userID, draft)
	require.NoError(t, err)

	task, err := storage.GetPendingTaskByName(ctx, "scheduler.PublishTask")
	require.NoError(t, err)
	assert.Equal(t, scheduler.TaskKey(post.ID), task.Key)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), task.ScheduledAt, 2*time.Second)
	assert.True(t, task.ScheduledAt.After(time.Now().Add(5*time.Second)),
		"task must not be claimable before the create transaction window closes")
}

func TestOrchestrator_EndToEndReschedule(t *testing.T) {
	// Property check against real queue storage: two reschedules leave
	// exactly one live task at the latest delay.
	storage := queue.NewMemoryStorage()
	defer storage.Close()
	ctx := context.Background()

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	userID := uuid.New()
	post := &scheduler.Post{
		ID:          uuid.New(),
		UserID:      userID,
		Platform:    "instagram",
		Content:     "x",
		ScheduledAt: time.Now().Add(time.Hour),
		Status:      scheduler.PostStatusPending,
	}

	key := scheduler.TaskKey(post.ID)
	payload := scheduler.NewPublishTask(post)

	require.NoError(t, enqueuer.Enqueue(ctx, payload, queue.WithKey(key), queue.WithDelay(time.Hour)))
	require.NoError(t, enqueuer.Reschedule(ctx, key, payload, queue.WithDelay(2*time.Hour)))
	require.NoError(t, enqueuer.Reschedule(ctx, key, payload, queue.WithDelay(3*time.Hour)))

	stats, err := storage.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting+stats.Delayed)
}
