package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements all queue repository interfaces for testing and
// local development. Production deployments use PostgresStorage so the
// queue survives restarts and is shared across processes.
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
	dlq   map[uuid.UUID]*DeadTask

	// Indexes for efficient queries
	byKey    map[string]uuid.UUID // live tasks only
	byStatus map[TaskStatus][]uuid.UUID

	paused         map[string]bool
	completedCount map[string]int64

	// Lock management
	lockTicker *time.Ticker
	done       chan struct{}
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	ms := &MemoryStorage{
		tasks:          make(map[uuid.UUID]*Task),
		dlq:            make(map[uuid.UUID]*DeadTask),
		byKey:          make(map[string]uuid.UUID),
		byStatus:       make(map[TaskStatus][]uuid.UUID),
		paused:         make(map[string]bool),
		completedCount: make(map[string]int64),
		done:           make(chan struct{}),
	}

	// Recover tasks from dead workers
	ms.lockTicker = time.NewTicker(time.Second)
	go ms.lockExpirationManager()

	return ms
}

// Close stops the background goroutines
func (ms *MemoryStorage) Close() error {
	close(ms.done)
	ms.lockTicker.Stop()
	return nil
}

// CreateTask implements EnqueuerRepository and SchedulerRepository.
// A live task holding the same key rejects the insert with ErrDuplicateTask.
func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	if task.Key != "" {
		if _, exists := ms.byKey[task.Key]; exists {
			return ErrDuplicateTask
		}
	}

	// Clone task to prevent external modifications
	taskCopy := *task
	ms.tasks[task.ID] = &taskCopy

	if task.Key != "" {
		ms.byKey[task.Key] = task.ID
	}
	ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)

	return nil
}

// RemoveTaskByKey implements EnqueuerRepository. Only pending tasks can be
// removed; a task already claimed by a worker completes its attempt.
func (ms *MemoryStorage) RemoveTaskByKey(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	taskID, exists := ms.byKey[key]
	if !exists {
		return ErrTaskNotFound
	}

	task := ms.tasks[taskID]
	if task.Status != TaskStatusPending {
		return ErrTaskNotFound
	}

	ms.removeFromStatusIndex(taskID, task.Status)
	delete(ms.byKey, key)
	delete(ms.tasks, taskID)

	return nil
}

// ClaimTask implements WorkerRepository. Due pending tasks and processing
// tasks whose lock expired (stalled workers) are both claimable; earliest
// scheduled time wins. Paused queues yield nothing.
func (ms *MemoryStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var bestTask *Task

	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]

		if !slices.Contains(queues, task.Queue) || ms.paused[task.Queue] {
			continue
		}

		// Skip tasks scheduled for future execution
		if task.ScheduledAt.After(now) {
			continue
		}

		if bestTask == nil || task.ScheduledAt.Before(bestTask.ScheduledAt) {
			bestTask = task
		}
	}

	if bestTask == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	bestTask.Status = TaskStatusProcessing
	bestTask.LockedUntil = &lockUntil
	bestTask.LockedBy = &workerID

	ms.removeFromStatusIndex(bestTask.ID, TaskStatusPending)
	ms.byStatus[TaskStatusProcessing] = append(ms.byStatus[TaskStatusProcessing], bestTask.ID)

	// Return a copy to prevent external modifications
	taskCopy := *bestTask
	return &taskCopy, nil
}

// CompleteTask implements WorkerRepository. Completed tasks are dropped and
// their key freed immediately; only the counter survives for statistics.
func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	ms.removeFromStatusIndex(taskID, TaskStatusProcessing)
	if task.Key != "" {
		delete(ms.byKey, task.Key)
	}
	delete(ms.tasks, taskID)

	ms.completedCount[task.Queue]++

	return nil
}

// FailTask implements WorkerRepository.
// While retries remain the task returns to pending with exponential backoff;
// the key stays claimed so a reschedule cannot race a retrying task.
func (ms *MemoryStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	ms.removeFromStatusIndex(taskID, TaskStatusProcessing)

	if task.RetryCount >= task.MaxRetries {
		task.Status = TaskStatusFailed
		ms.byStatus[TaskStatusFailed] = append(ms.byStatus[TaskStatusFailed], taskID)
		// An exhausted task no longer holds its key; the Postgres partial
		// index covers only pending and processing rows
		if task.Key != "" && ms.byKey[task.Key] == taskID {
			delete(ms.byKey, task.Key)
		}
	} else {
		task.Status = TaskStatusPending
		ms.byStatus[TaskStatusPending] = append(ms.byStatus[TaskStatusPending], taskID)
		task.ScheduledAt = time.Now().Add(task.RetryBackoff())
	}

	return nil
}

// MoveToDLQ implements WorkerRepository
func (ms *MemoryStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	dead := &DeadTask{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Key:        task.Key,
		Queue:      task.Queue,
		TaskType:   task.TaskType,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		RetryCount: task.RetryCount,
		MaxRetries: task.MaxRetries,
		FailedAt:   time.Now(),
		CreatedAt:  time.Now(),
	}
	if task.Error != nil {
		dead.FailedReason = *task.Error
	}

	ms.dlq[dead.ID] = dead

	ms.removeFromStatusIndex(taskID, task.Status)
	// The key may already be freed, or re-claimed by a newer task
	if task.Key != "" && ms.byKey[task.Key] == taskID {
		delete(ms.byKey, task.Key)
	}
	delete(ms.tasks, taskID)

	return nil
}

// ExtendLock implements WorkerRepository
func (ms *MemoryStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	lockUntil := time.Now().Add(duration)
	task.LockedUntil = &lockUntil

	return nil
}

// GetPendingTaskByName implements SchedulerRepository
func (ms *MemoryStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]
		if task.TaskName == taskName {
			taskCopy := *task
			return &taskCopy, nil
		}
	}

	return nil, ErrTaskNotFound
}

// Stats implements AdminRepository
func (ms *MemoryStorage) Stats(ctx context.Context, queue string) (Stats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := time.Now()
	var stats Stats

	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]
		if queue != "" && task.Queue != queue {
			continue
		}
		if task.ScheduledAt.After(now) {
			stats.Delayed++
		} else {
			stats.Waiting++
		}
	}

	for _, taskID := range ms.byStatus[TaskStatusProcessing] {
		if queue != "" && ms.tasks[taskID].Queue != queue {
			continue
		}
		stats.Active++
	}

	for q, n := range ms.completedCount {
		if queue != "" && q != queue {
			continue
		}
		stats.Completed += n
	}

	for _, taskID := range ms.byStatus[TaskStatusFailed] {
		if queue != "" && ms.tasks[taskID].Queue != queue {
			continue
		}
		stats.Failed++
	}
	for _, dead := range ms.dlq {
		if queue != "" && dead.Queue != queue {
			continue
		}
		stats.Failed++
	}

	return stats, nil
}

// SetQueuePaused implements AdminRepository
func (ms *MemoryStorage) SetQueuePaused(ctx context.Context, queue string, paused bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if paused {
		ms.paused[queue] = true
	} else {
		delete(ms.paused, queue)
	}
	return nil
}

// ListDeadTasks implements AdminRepository
func (ms *MemoryStorage) ListDeadTasks(ctx context.Context, queue string, limit int) ([]DeadTask, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	dead := make([]DeadTask, 0, len(ms.dlq))
	for _, d := range ms.dlq {
		if queue != "" && d.Queue != queue {
			continue
		}
		dead = append(dead, *d)
	}

	slices.SortFunc(dead, func(a, b DeadTask) int {
		return b.FailedAt.Compare(a.FailedAt)
	})

	if limit > 0 && len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

// RequeueDeadTask implements AdminRepository. The task returns to pending
// with a fresh retry budget under its original key; a live task already
// holding that key rejects the requeue.
func (ms *MemoryStorage) RequeueDeadTask(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	dead, exists := ms.dlq[id]
	if !exists {
		return ErrDeadTaskNotFound
	}

	if dead.Key != "" {
		if _, taken := ms.byKey[dead.Key]; taken {
			return ErrDuplicateTask
		}
	}

	task := &Task{
		ID:          uuid.New(),
		Key:         dead.Key,
		Queue:       dead.Queue,
		TaskType:    dead.TaskType,
		TaskName:    dead.TaskName,
		Payload:     dead.Payload,
		Status:      TaskStatusPending,
		RetryCount:  0,
		MaxRetries:  dead.MaxRetries,
		ScheduledAt: time.Now(),
		CreatedAt:   time.Now(),
	}

	ms.tasks[task.ID] = task
	if task.Key != "" {
		ms.byKey[task.Key] = task.ID
	}
	ms.byStatus[TaskStatusPending] = append(ms.byStatus[TaskStatusPending], task.ID)

	delete(ms.dlq, id)

	return nil
}

// Helper methods

func (ms *MemoryStorage) removeFromStatusIndex(taskID uuid.UUID, status TaskStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == taskID
	})
}

// lockExpirationManager recovers tasks claimed by dead workers. Without it,
// a worker crash would strand its claimed tasks in processing forever.
func (ms *MemoryStorage) lockExpirationManager() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

// expireLocks resets processing tasks whose lock has passed back to pending,
// preserving their retry count. This is the redelivery half of at-least-once:
// a worker that crashed mid-task loses its claim after the lock timeout and
// another worker picks the task up.
func (ms *MemoryStorage) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for _, taskID := range ms.byStatus[TaskStatusProcessing] {
		task := ms.tasks[taskID]
		if task.LockedUntil != nil && task.LockedUntil.Before(now) {
			task.Status = TaskStatusPending
			task.LockedUntil = nil
			task.LockedBy = nil

			ms.removeFromStatusIndex(taskID, TaskStatusProcessing)
			ms.byStatus[TaskStatusPending] = append(ms.byStatus[TaskStatusPending], taskID)
		}
	}
}
