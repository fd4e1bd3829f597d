package ledger

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a processed marker is kept. Long enough to
// outlive any realistic queue redelivery window, short enough that the set
// does not grow unbounded.
const DefaultTTL = 7 * 24 * time.Hour

// Ledger records which logical jobs have already been processed,
// independent of the queue's own delivery bookkeeping. Workers consult it
// before side effects and mark only terminal outcomes, so redelivered jobs
// are dropped instead of double-publishing.
type Ledger interface {
	// MarkProcessed records that the job with the given id reached a
	// terminal outcome. The marker expires after the store's TTL.
	MarkProcessed(ctx context.Context, id string) error

	// IsProcessed reports whether the job was already processed.
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Unmark removes the marker, allowing explicit reprocessing.
	Unmark(ctx context.Context, id string) error
}
