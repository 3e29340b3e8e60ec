package memory

import (
	"context"
	"sync"
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// CounterRepository is an in-process domain.CounterRepository
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]domain.SummaryCounters
}

// NewCounterRepository creates an empty repository
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]domain.SummaryCounters)}
}

// Get returns the counters of a store, or nil when none were written
func (r *CounterRepository) Get(ctx context.Context, storeID string) (*domain.SummaryCounters, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[storeID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Increment adds delta to the store's counters, creating them at zero
func (r *CounterRepository) Increment(ctx context.Context, storeID string, delta domain.CounterDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[storeID]
	if !ok {
		c = domain.SummaryCounters{StoreID: storeID, StockValue: domain.Zero}
	}
	c.OutOfStock += delta.OutOfStock
	c.LowStock += delta.LowStock
	c.StockValue = c.StockValue.Add(delta.StockValue)
	c.UpdatedAt = time.Now().UTC()
	r.counters[storeID] = c
	return nil
}

// Replace overwrites the store's counters
func (r *CounterRepository) Replace(ctx context.Context, counters *domain.SummaryCounters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[counters.StoreID] = *counters
	return nil
}
