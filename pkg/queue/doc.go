// Package queue provides a durable delay queue with key-unique tasks,
// at-least-once delivery, and a retained dead letter queue.
//
// The package is organised around four main components:
//
//   - Enqueuer   — adds, removes, and reschedules one-time keyed tasks
//   - Scheduler  — converts Schedule definitions into periodic tasks at runtime
//   - Worker     — claims due tasks and dispatches them to a user supplied Handler
//   - Admin      — queue statistics, pause/resume, and dead letter inspection
//
// Components interact only through a set of small repository interfaces,
// keeping the business logic decoupled from persistence. PostgresStorage is
// the production implementation; MemoryStorage serves tests and local
// development.
//
// # Architecture
//
//  1. The EnqueuerRepository, WorkerRepository, SchedulerRepository, and
//     AdminRepository interfaces encapsulate all persistence concerns.
//  2. Enqueuer, Scheduler, Worker, and Admin are independent and can run in
//     separate processes against the same storage.
//  3. A task's Key is its idempotency handle: at most one live task (pending
//     or processing) may hold a key, so duplicate enqueues are rejected with
//     ErrDuplicateTask and rescheduling is remove-then-enqueue.
//  4. Delivery is at least once. A claimed task holds a worker lock; if the
//     lock expires before completion the task becomes claimable again, so
//     handlers must tolerate redelivery.
//  5. Failed attempts are retried with exponential backoff up to MaxRetries,
//     then the task moves to a retained dead letter queue for manual requeue.
//
// # Usage
//
// Basic delayed task:
//
//	import (
//	    "context"
//	    "time"
//
//	    "github.com/dmitrymomot/postflow/pkg/queue"
//	)
//
//	type PublishPayload struct {
//	    PostID string
//	}
//
//	func example(repo queue.EnqueuerRepository) error {
//	    e, err := queue.NewEnqueuer(repo)
//	    if err != nil {
//	        return err
//	    }
//
//	    return e.Enqueue(context.Background(),
//	        PublishPayload{PostID: "abc"},
//	        queue.WithKey("post:abc"),
//	        queue.WithDelay(time.Hour),
//	    )
//	}
//
// Periodic job:
//
//	s, _ := queue.NewScheduler(repo, queue.WithCheckInterval(30*time.Second))
//	_ = s.AddTask("credential_sweep", queue.Hourly())
//	go s.Start(context.Background())
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrDuplicateTask, ErrTaskNotFound,
// ErrNoHandlers) signal violations of business invariants and can be checked
// with errors.Is.
package queue
