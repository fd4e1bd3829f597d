// Package ledger provides a TTL-bounded idempotency set recording which
// logical jobs have already been processed.
//
// The ledger is a second idempotency layer on top of the queue's own
// completion bookkeeping: if the queue redelivers a job after a stalled-job
// recovery, the worker consults the ledger before calling the external
// publisher and drops the duplicate. Markers are written only on terminal
// outcomes (success or permanent failure), never on transient failure, so
// legitimate retries still happen.
//
// Two implementations are provided: MemoryLedger for tests and RedisLedger
// for production, where the set must be visible to all worker processes.
//
// # Usage
//
//	l, _ := ledger.NewRedisLedger(redisClient)
//
//	done, err := l.IsProcessed(ctx, "post-"+postID)
//	if done {
//	    return nil // duplicate delivery, drop
//	}
//	// ... publish ...
//	_ = l.MarkProcessed(ctx, "post-"+postID)
package ledger
