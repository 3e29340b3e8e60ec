package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps entries in process memory. It backs the memory
// storage driver and the unit tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]Entry)}
}

func memoryKey(scope, key string) string {
	return scope + "\x00" + key
}

// Get returns a copy of the stored entry
func (r *MemoryRepository) Get(_ context.Context, scope, key string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[memoryKey(scope, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Put stores the entry if the key is unused
func (r *MemoryRepository) Put(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := memoryKey(entry.Scope, entry.Key)
	if existing, ok := r.entries[k]; ok && !existing.IsExpired(time.Now()) {
		return nil
	}
	r.entries[k] = *entry
	return nil
}

// Clean drops entries that expired before the given time
func (r *MemoryRepository) Clean(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, e := range r.entries {
		if e.ExpiresAt.Before(before) {
			delete(r.entries, k)
			n++
		}
	}
	return n, nil
}

// EnsureIndexes is a no-op for the in-memory repository
func (r *MemoryRepository) EnsureIndexes(context.Context) error {
	return nil
}
