package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/postflow/pkg/pg"
)

// PostgresStorage implements all queue repository interfaces on top of a
// pgx connection pool. Durability and cross-process coordination both come
// from the database: claims use FOR UPDATE SKIP LOCKED, key uniqueness is a
// partial unique index over live tasks, and pause flags live in a shared
// table so every worker observes them.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a storage backed by the given pool. The schema
// is managed by the migrations directory, not created here.
func NewPostgresStorage(pool *pgxpool.Pool) (*PostgresStorage, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PostgresStorage{pool: pool}, nil
}

const taskColumns = `id, key, queue, task_type, task_name, payload, status,
	retry_count, max_retries, backoff_base_ms, scheduled_at, locked_until,
	locked_by, processed_at, error, created_at`

func scanTask(row pgx.Row) (*Task, error) {
	var (
		task          Task
		key           *string
		backoffBaseMs int64
		errMsg        *string
	)
	err := row.Scan(&task.ID, &key, &task.Queue, &task.TaskType, &task.TaskName,
		&task.Payload, &task.Status, &task.RetryCount, &task.MaxRetries,
		&backoffBaseMs, &task.ScheduledAt, &task.LockedUntil, &task.LockedBy,
		&task.ProcessedAt, &errMsg, &task.CreatedAt)
	if err != nil {
		return nil, err
	}
	if key != nil {
		task.Key = *key
	}
	task.BackoffBase = time.Duration(backoffBaseMs) * time.Millisecond
	task.Error = errMsg
	return &task, nil
}

// nullableKey maps the empty key to NULL so the partial unique index only
// constrains tasks that actually carry a key.
func nullableKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

// CreateTask implements EnqueuerRepository and SchedulerRepository
func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, key, queue, task_type, task_name, payload, status,
			retry_count, max_retries, backoff_base_ms, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID, nullableKey(task.Key), task.Queue, task.TaskType, task.TaskName,
		task.Payload, task.Status, task.RetryCount, task.MaxRetries,
		task.BackoffBase.Milliseconds(), task.ScheduledAt, task.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// RemoveTaskByKey implements EnqueuerRepository. Only pending tasks can be
// removed; a claimed task finishes its current attempt.
func (s *PostgresStorage) RemoveTaskByKey(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE key = $1 AND status = $2`,
		key, TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to remove task by key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ClaimTask implements WorkerRepository. A single statement claims the next
// due task: pending tasks that are due, plus processing tasks whose lock
// expired (their worker died). FOR UPDATE SKIP LOCKED makes concurrent
// workers skip rows another claim is touching instead of blocking on them.
func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET
			status = $1,
			locked_until = now() + $2,
			locked_by = $3
		WHERE id = (
			SELECT t.id FROM tasks t
			WHERE t.queue = ANY($4)
			  AND NOT EXISTS (
				SELECT 1 FROM queue_state qs
				WHERE qs.queue = t.queue AND qs.paused
			  )
			  AND (
				(t.status = $5 AND t.scheduled_at <= now())
				OR (t.status = $1 AND t.locked_until < now())
			  )
			ORDER BY t.scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+taskColumns,
		TaskStatusProcessing, lockDuration, workerID, queues, TaskStatusPending)

	task, err := scanTask(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return task, nil
}

// CompleteTask implements WorkerRepository. The row is deleted so the key is
// freed immediately; the completed counter survives in queue_state.
func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var queue string
	err = tx.QueryRow(ctx,
		`DELETE FROM tasks WHERE id = $1 AND status = $2 RETURNING queue`,
		taskID, TaskStatusProcessing).Scan(&queue)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return fmt.Errorf("task %s not found or not processing", taskID)
		}
		return fmt.Errorf("failed to complete task: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_state (queue, paused, completed_count)
		VALUES ($1, false, 1)
		ON CONFLICT (queue) DO UPDATE SET completed_count = queue_state.completed_count + 1`,
		queue)
	if err != nil {
		return fmt.Errorf("failed to update completed count: %w", err)
	}

	return tx.Commit(ctx)
}

// FailTask implements WorkerRepository. While retries remain the task goes
// back to pending with exponential backoff; the key stays claimed so a
// reschedule cannot race a retrying task. Once retries are exhausted the
// task is marked failed and awaits MoveToDLQ.
func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN $3 ELSE $4 END
		WHERE id = $1 AND status = $5
		RETURNING status, retry_count, backoff_base_ms`,
		taskID, errorMsg, TaskStatusFailed, TaskStatusPending, TaskStatusProcessing)

	var (
		status        TaskStatus
		retryCount    int8
		backoffBaseMs int64
	)
	if err := row.Scan(&status, &retryCount, &backoffBaseMs); err != nil {
		if pg.IsNotFoundError(err) {
			return fmt.Errorf("task %s not found or not processing", taskID)
		}
		return fmt.Errorf("failed to fail task: %w", err)
	}

	if status == TaskStatusPending {
		t := Task{RetryCount: retryCount, BackoffBase: time.Duration(backoffBaseMs) * time.Millisecond}
		_, err := s.pool.Exec(ctx,
			`UPDATE tasks SET scheduled_at = now() + $2 WHERE id = $1`,
			taskID, t.RetryBackoff())
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
	}
	return nil
}

// MoveToDLQ implements WorkerRepository. The dead task keeps its payload,
// key, and failure reason so an operator can inspect and requeue it.
func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks_dlq (id, task_id, key, queue, task_type, task_name,
			payload, failed_reason, retry_count, max_retries, failed_at, created_at)
		SELECT $2, id, key, queue, task_type, task_name,
			payload, COALESCE(error, ''), retry_count, max_retries, now(), now()
		FROM tasks WHERE id = $1`,
		taskID, uuid.New())
	if err != nil {
		return fmt.Errorf("failed to insert dead task: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}

	return tx.Commit(ctx)
}

// ExtendLock implements WorkerRepository
func (s *PostgresStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET locked_until = now() + $2 WHERE id = $1 AND status = $3`,
		taskID, duration, TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not found or not processing", taskID)
	}
	return nil
}

// GetPendingTaskByName implements SchedulerRepository
func (s *PostgresStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_name = $1 AND status = $2 LIMIT 1`,
		taskName, TaskStatusPending)
	task, err := scanTask(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get pending task by name: %w", err)
	}
	return task, nil
}

// Stats implements AdminRepository
func (s *PostgresStorage) Stats(ctx context.Context, queue string) (Stats, error) {
	var stats Stats

	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = $2 AND scheduled_at <= now()),
			count(*) FILTER (WHERE status = $2 AND scheduled_at > now()),
			count(*) FILTER (WHERE status = $3),
			count(*) FILTER (WHERE status = $4)
		FROM tasks
		WHERE $1 = '' OR queue = $1`,
		queue, TaskStatusPending, TaskStatusProcessing, TaskStatusFailed).
		Scan(&stats.Waiting, &stats.Delayed, &stats.Active, &stats.Failed)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(completed_count), 0) FROM queue_state WHERE $1 = '' OR queue = $1`,
		queue).Scan(&stats.Completed)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count completed tasks: %w", err)
	}

	var dead int64
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks_dlq WHERE $1 = '' OR queue = $1`,
		queue).Scan(&dead)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count dead tasks: %w", err)
	}
	stats.Failed += dead

	return stats, nil
}

// SetQueuePaused implements AdminRepository
func (s *PostgresStorage) SetQueuePaused(ctx context.Context, queue string, paused bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_state (queue, paused, completed_count)
		VALUES ($1, $2, 0)
		ON CONFLICT (queue) DO UPDATE SET paused = $2`,
		queue, paused)
	if err != nil {
		return fmt.Errorf("failed to set queue paused state: %w", err)
	}
	return nil
}

// ListDeadTasks implements AdminRepository
func (s *PostgresStorage) ListDeadTasks(ctx context.Context, queue string, limit int) ([]DeadTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, key, queue, task_type, task_name, payload,
			failed_reason, retry_count, max_retries, failed_at, created_at
		FROM tasks_dlq
		WHERE $1 = '' OR queue = $1
		ORDER BY failed_at DESC
		LIMIT $2`,
		queue, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead tasks: %w", err)
	}
	defer rows.Close()

	var dead []DeadTask
	for rows.Next() {
		var (
			d   DeadTask
			key *string
		)
		if err := rows.Scan(&d.ID, &d.TaskID, &key, &d.Queue, &d.TaskType,
			&d.TaskName, &d.Payload, &d.FailedReason, &d.RetryCount,
			&d.MaxRetries, &d.FailedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead task: %w", err)
		}
		if key != nil {
			d.Key = *key
		}
		dead = append(dead, d)
	}
	return dead, rows.Err()
}

// RequeueDeadTask implements AdminRepository. The task returns to pending
// with a fresh retry budget under its original key; a live task already
// holding that key rejects the requeue via the unique index.
func (s *PostgresStorage) RequeueDeadTask(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO tasks (id, key, queue, task_type, task_name, payload, status,
			retry_count, max_retries, backoff_base_ms, scheduled_at, created_at)
		SELECT $2, key, queue, task_type, task_name, payload, $3,
			0, max_retries, $4, now(), now()
		FROM tasks_dlq WHERE id = $1`,
		id, uuid.New(), TaskStatusPending, DefaultBackoffBase.Milliseconds())
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrDuplicateTask
		}
		return fmt.Errorf("failed to requeue dead task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeadTaskNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tasks_dlq WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dead task: %w", err)
	}

	return tx.Commit(ctx)
}
