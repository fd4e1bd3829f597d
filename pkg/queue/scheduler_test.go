package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/postflow/pkg/queue"
)

// MockSchedulerRepository is a mock implementation of SchedulerRepository
type MockSchedulerRepository struct {
	mock.Mock
}

func (m *MockSchedulerRepository) CreateTask(ctx context.Context, task *queue.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockSchedulerRepository) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	args := m.Called(ctx, taskName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Task), args.Error(1)
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		s, err := queue.NewScheduler(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, s)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockSchedulerRepository)
		s, err := queue.NewScheduler(mockRepo)
		require.NoError(t, err)

		require.NoError(t, s.AddTask("credential_sweep", queue.Hourly()))
		err = s.AddTask("credential_sweep", queue.Hourly())
		assert.ErrorIs(t, err, queue.ErrTaskAlreadyRegistered)
	})

	t.Run("list and remove", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockSchedulerRepository)
		s, err := queue.NewScheduler(mockRepo)
		require.NoError(t, err)

		require.NoError(t, s.AddTask("credential_sweep", queue.Hourly()))
		assert.Equal(t, []string{"credential_sweep"}, s.ListTasks())

		s.RemoveTask("credential_sweep")
		assert.Empty(t, s.ListTasks())
	})
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("fails with no tasks", func(t *testing.T) {
		t.Parallel()

		mockRepo := new(MockSchedulerRepository)
		s, err := queue.NewScheduler(mockRepo)
		require.NoError(t, err)

		err = s.Start(context.Background())
		assert.ErrorIs(t, err, queue.ErrSchedulerNotConfigured)
	})

	t.Run("creates periodic task on first check", func(t *testing.T) {
		t.Parallel()

		created := make(chan *queue.Task, 1)
		mockRepo := new(MockSchedulerRepository)
		mockRepo.On("GetPendingTaskByName", mock.Anything, "credential_sweep").
			Return(nil, queue.ErrTaskNotFound)
		mockRepo.On("CreateTask", mock.Anything, mock.AnythingOfType("*queue.Task")).
			Run(func(args mock.Arguments) {
				select {
				case created <- args.Get(1).(*queue.Task):
				default:
				}
			}).
			Return(nil)

		s, err := queue.NewScheduler(mockRepo, queue.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("credential_sweep", queue.EveryMinutes(1), queue.WithTaskQueue("maintenance")))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = s.Start(ctx)
			close(done)
		}()

		select {
		case task := <-created:
			assert.Equal(t, "credential_sweep", task.TaskName)
			assert.Equal(t, "maintenance", task.Queue)
			assert.Equal(t, queue.TaskTypePeriodic, task.TaskType)
			assert.Nil(t, task.Payload)
		case <-time.After(2 * time.Second):
			t.Fatal("periodic task was not created")
		}

		cancel()
		<-done
	})

	t.Run("existing pending task is not duplicated", func(t *testing.T) {
		t.Parallel()

		pending := &queue.Task{
			TaskName:    "credential_sweep",
			TaskType:    queue.TaskTypePeriodic,
			Status:      queue.TaskStatusPending,
			ScheduledAt: time.Now().Add(time.Hour),
		}

		mockRepo := new(MockSchedulerRepository)
		mockRepo.On("GetPendingTaskByName", mock.Anything, "credential_sweep").
			Return(pending, nil)

		s, err := queue.NewScheduler(mockRepo, queue.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("credential_sweep", queue.Hourly()))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
		_ = s.Start(ctx)

		mockRepo.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
	})
}
