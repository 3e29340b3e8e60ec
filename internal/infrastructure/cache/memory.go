// Package cache holds domain.SummaryCache implementations.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// DefaultTTL bounds how stale a cached summary can be
const DefaultTTL = 60 * time.Second

type memoryEntry struct {
	summary   domain.InventorySummary
	expiresAt time.Time
}

// MemorySummaryCache is a per-process cache. Suitable for single-instance
// deployments and tests.
type MemorySummaryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemorySummaryCache creates an empty cache
func NewMemorySummaryCache() *MemorySummaryCache {
	return &MemorySummaryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemorySummaryCache) Get(ctx context.Context, storeID string) (*domain.InventorySummary, error) {
	c.mu.RLock()
	entry, ok := c.entries[storeID]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[storeID]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, storeID)
		}
		c.mu.Unlock()
		return nil, nil
	}

	summary := entry.summary
	return &summary, nil
}

func (c *MemorySummaryCache) Set(ctx context.Context, summary *domain.InventorySummary, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[summary.StoreID] = memoryEntry{summary: *summary, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemorySummaryCache) Invalidate(ctx context.Context, storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, storeID)
	return nil
}
