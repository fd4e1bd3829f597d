// Package scheduler coordinates scheduled posts and their publish jobs.
//
// A post row in Postgres is the source of truth; the delay queue task keyed
// "post-<id>" is derived state. The Orchestrator keeps the two aligned:
//
//   - Create inserts the row and enqueues the job inside one logical
//     transaction. If the enqueue fails after retries, the row rolls back.
//   - Update mutates pending posts only. A schedule change reschedules the
//     job first and tolerates queue failures, since the publish worker
//     re-reads the row before acting.
//   - Remove cancels the job best-effort, then deletes the row.
//
// The asymmetry is deliberate: creation must never leave half a post, while
// update and remove can lean on the row re-check in the worker.
package scheduler
