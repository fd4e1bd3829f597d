package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrDuplicateTask is returned when a live task already holds the key.
	// Callers treat this as a rejection, not a failure: the first enqueue won.
	ErrDuplicateTask = errors.New("a live task with this key already exists")

	// ErrTaskNotFound is returned when no live task matches the given key
	ErrTaskNotFound = errors.New("no live task with this key")

	// ErrDeadTaskNotFound is returned when a DLQ entry does not exist
	ErrDeadTaskNotFound = errors.New("dead letter task not found")

	// ErrNoTaskToClaim is returned when no due task is available for a worker
	ErrNoTaskToClaim = errors.New("no task available to claim")

	// ErrHandlerNotFound is returned when no handler is registered for a task
	ErrHandlerNotFound = errors.New("no handler registered for task type")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no task handlers registered")

	// ErrTaskAlreadyRegistered is returned when trying to register a duplicate periodic task
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	// ErrSchedulerNotConfigured is returned when scheduler has no tasks
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")
)
