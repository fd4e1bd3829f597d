package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/pkg/queue"
)

// MockWorkerRepository is a mock implementation of WorkerRepository
type MockWorkerRepository struct {
	mock.Mock
}

func (m *MockWorkerRepository) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	args := m.Called(ctx, workerID, queues, lockDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func (m *MockWorkerRepository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockWorkerRepository) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	args := m.Called(ctx, taskID, errorMsg)
	return args.Error(0)
}

func (m *MockWorkerRepository) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockWorkerRepository) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	args := m.Called(ctx, taskID, duration)
	return args.Error(0)
}

type testPayload struct {
	Message string `json:"message"`
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_NewWorker(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockWorkerRepository)
		defer mockRepo.AssertExpectations(t)

		worker, err := queue.NewWorker(mockRepo)
		require.NoError(t, err)
		require.NotNil(t, worker)
	})

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		worker, err := queue.NewWorker(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, worker)
	})
}

func TestWorker_Start(t *testing.T) {
	t.Parallel()

	t.Run("fails without handlers", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockWorkerRepository)
		worker, err := queue.NewWorker(mockRepo)
		require.NoError(t, err)

		err = worker.Start(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoHandlers)
	})

	t.Run("double start fails", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()

		worker, err := queue.NewWorker(mockRepo, queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)

		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error { return nil })
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		assert.Error(t, worker.Start(context.Background()))
	})
}

func TestWorker_ProcessTask(t *testing.T) {
	t.Parallel()

	makeTask := func(name string) *queue.Task {
		payload, _ := json.Marshal(testPayload{Message: "hello"})
		return &queue.Task{
			ID:          uuid.New(),
			Queue:       queue.DefaultQueueName,
			TaskType:    queue.TaskTypeOneTime,
			TaskName:    name,
			Payload:     payload,
			Status:      queue.TaskStatusProcessing,
			MaxRetries:  3,
			ScheduledAt: time.Now(),
			CreatedAt:   time.Now(),
		}
	}

	t.Run("successful task is completed", func(t *testing.T) {
		t.Parallel()

		var handled atomic.Int32
		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
			handled.Add(1)
			return nil
		})

		task := makeTask(handler.Name())

		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("CompleteTask", mock.Anything, task.ID).Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		require.Eventually(t, func() bool {
			return handled.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)

		mockRepo.AssertExpectations(t)
	})

	t.Run("failed task is recorded, not completed", func(t *testing.T) {
		t.Parallel()

		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
			return errors.New("platform timeout")
		})

		task := makeTask(handler.Name())

		failed := make(chan struct{})
		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("FailTask", mock.Anything, task.ID, "platform timeout").
			Run(func(mock.Arguments) { close(failed) }).
			Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("FailTask was not called")
		}

		mockRepo.AssertExpectations(t)
		mockRepo.AssertNotCalled(t, "CompleteTask", mock.Anything, mock.Anything)
	})

	t.Run("exhausted retries move task to DLQ", func(t *testing.T) {
		t.Parallel()

		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
			return errors.New("still broken")
		})

		task := makeTask(handler.Name())
		task.RetryCount = 2 // two failures recorded; this attempt spends the last of three

		moved := make(chan struct{})
		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("FailTask", mock.Anything, task.ID, "still broken").Return(nil).Once()
		mockRepo.On("MoveToDLQ", mock.Anything, task.ID).
			Run(func(mock.Arguments) { close(moved) }).
			Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("MoveToDLQ was not called")
		}

		mockRepo.AssertExpectations(t)
	})

	t.Run("failure with retries remaining stays out of the DLQ", func(t *testing.T) {
		t.Parallel()

		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
			return errors.New("still broken")
		})

		task := makeTask(handler.Name())
		task.RetryCount = 1

		failed := make(chan struct{})
		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("FailTask", mock.Anything, task.ID, "still broken").
			Run(func(mock.Arguments) { close(failed) }).
			Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("FailTask was not called")
		}

		// Stop drains the in-flight task before the mock is inspected
		require.NoError(t, worker.Stop())

		mockRepo.AssertExpectations(t)
		mockRepo.AssertNotCalled(t, "MoveToDLQ", mock.Anything, mock.Anything)
	})

	t.Run("panicking handler is treated as failure", func(t *testing.T) {
		t.Parallel()

		handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
			panic("boom")
		})

		task := makeTask(handler.Name())

		failed := make(chan struct{})
		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("FailTask", mock.Anything, task.ID, mock.MatchedBy(func(msg string) bool {
			return msg != ""
		})).Run(func(mock.Arguments) { close(failed) }).Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(handler))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatal("FailTask was not called after panic")
		}
	})

	t.Run("missing handler sends task to DLQ", func(t *testing.T) {
		t.Parallel()

		registered := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error { return nil })

		task := makeTask("unknown.TaskName")

		moved := make(chan struct{})
		mockRepo := new(MockWorkerRepository)
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(task, nil).Once()
		mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, queue.ErrNoTaskToClaim).Maybe()
		mockRepo.On("FailTask", mock.Anything, task.ID, mock.Anything).Return(nil).Once()
		mockRepo.On("MoveToDLQ", mock.Anything, task.ID).
			Run(func(mock.Arguments) { close(moved) }).
			Return(nil).Once()

		worker, err := queue.NewWorker(mockRepo,
			queue.WithPullInterval(10*time.Millisecond),
			queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, worker.RegisterHandler(registered))

		require.NoError(t, worker.Start(context.Background()))
		defer worker.Stop() //nolint:errcheck

		select {
		case <-moved:
		case <-time.After(2 * time.Second):
			t.Fatal("MoveToDLQ was not called for unknown handler")
		}
	})
}

func TestWorker_RetryExhaustionReachesDLQ(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enqueuer, err := queue.NewEnqueuer(storage, queue.WithEnqueuerLogger(quietLogger()))
	require.NoError(t, err)

	handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
		return errors.New("platform rejected the post")
	})

	ctx := context.Background()
	require.NoError(t, enqueuer.Enqueue(ctx, testPayload{Message: "doomed"},
		queue.WithKey("publish:doomed"),
		queue.WithMaxRetries(2),
		queue.WithBackoffBase(10*time.Millisecond)))

	worker, err := queue.NewWorker(storage,
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, worker.RegisterHandler(handler))

	require.NoError(t, worker.Start(ctx))
	defer worker.Stop() //nolint:errcheck

	var dead []queue.DeadTask
	require.Eventually(t, func() bool {
		dead, err = storage.ListDeadTasks(ctx, "", 10)
		return err == nil && len(dead) == 1
	}, 5*time.Second, 20*time.Millisecond, "exhausted task never reached the dead letter queue")

	assert.Equal(t, "publish:doomed", dead[0].Key)
	assert.Equal(t, int8(2), dead[0].RetryCount)
	assert.Equal(t, int8(2), dead[0].MaxRetries)
	assert.Equal(t, "platform rejected the post", dead[0].FailedReason)

	// The dead task no longer holds its key, so the same key can be
	// scheduled again
	require.NoError(t, enqueuer.Enqueue(ctx, testPayload{Message: "again"},
		queue.WithKey("publish:doomed"),
		queue.WithMaxRetries(2)))
}

func TestWorker_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	const maxConcurrent = 2

	var active, peak atomic.Int32
	release := make(chan struct{})

	handler := queue.NewTaskHandler(func(ctx context.Context, p testPayload) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	})

	payload, _ := json.Marshal(testPayload{Message: "x"})
	makeTask := func() *queue.Task {
		return &queue.Task{
			ID:          uuid.New(),
			Queue:       queue.DefaultQueueName,
			TaskType:    queue.TaskTypeOneTime,
			TaskName:    handler.Name(),
			Payload:     payload,
			Status:      queue.TaskStatusProcessing,
			MaxRetries:  3,
			ScheduledAt: time.Now(),
			CreatedAt:   time.Now(),
		}
	}

	mockRepo := new(MockWorkerRepository)
	mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(makeTask(), nil).Times(5)
	mockRepo.On("ClaimTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, queue.ErrNoTaskToClaim).Maybe()
	mockRepo.On("CompleteTask", mock.Anything, mock.Anything).Return(nil)

	worker, err := queue.NewWorker(mockRepo,
		queue.WithPullInterval(5*time.Millisecond),
		queue.WithMaxConcurrentTasks(maxConcurrent),
		queue.WithWorkerLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, worker.RegisterHandler(handler))

	require.NoError(t, worker.Start(context.Background()))

	// Wait until the pool saturates, then let everything finish
	require.Eventually(t, func() bool {
		return active.Load() == maxConcurrent
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, worker.Stop())

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
}
