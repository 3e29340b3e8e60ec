package idempotency

import (
	"context"
	"time"
)

// Repository stores idempotency entries.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the entry for (scope, key) or ErrNotFound.
	Get(ctx context.Context, scope, key string) (*Entry, error)

	// Put stores an entry. The first write for a (scope, key) wins; later
	// writes for the same pair are ignored.
	Put(ctx context.Context, entry *Entry) error

	// Clean removes entries that expired before the given time and returns
	// the number removed.
	Clean(ctx context.Context, before time.Time) (int64, error)

	// EnsureIndexes creates the indexes the repository relies on.
	EnsureIndexes(ctx context.Context) error
}
