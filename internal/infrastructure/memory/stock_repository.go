package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// StockRepository is an in-process domain.StockRepository. Batches are
// validated and applied under one lock so they commit all-or-nothing.
type StockRepository struct {
	mu        sync.Mutex
	records   map[string]domain.StockRecord
	movements *MovementRepository
}

// NewStockRepository creates an empty repository. Batch movements are written
// to movements when it is non-nil.
func NewStockRepository(movements *MovementRepository) *StockRepository {
	return &StockRepository{
		records:   make(map[string]domain.StockRecord),
		movements: movements,
	}
}

func stockKey(storeID, productID string) string {
	return storeID + "|" + productID
}

// Get returns a copy of the stock record
func (r *StockRepository) Get(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[stockKey(storeID, productID)]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &rec, nil
}

// Save inserts or replaces a stock record
func (r *StockRepository) Save(ctx context.Context, record *domain.StockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.CurrentStock < 0 {
		return domain.NewFieldError("currentStock", "must not be negative")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	rec := *record
	if existing, ok := r.records[stockKey(rec.StoreID, rec.ProductID)]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = domain.ProductStatusActive
	}
	rec.UpdatedAt = now
	r.records[stockKey(rec.StoreID, rec.ProductID)] = rec
	return nil
}

// Adjust applies delta to a single record
func (r *StockRepository) Adjust(ctx context.Context, storeID, productID string, delta int64) (*domain.StockChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.check(storeID, productID, delta); err != nil {
		return nil, err
	}
	change := r.apply(storeID, productID, delta)
	return &change, nil
}

// ApplyBatch validates every line, then applies all of them or none
func (r *StockRepository) ApplyBatch(ctx context.Context, req domain.BatchRequest) ([]domain.StockChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []domain.ItemFailure
	for i, line := range req.Lines {
		if err := r.check(req.StoreID, line.ProductID, line.Delta); err != nil {
			failures = append(failures, domain.NewItemFailure(i, line, err))
		}
	}
	if len(failures) > 0 {
		return nil, &domain.TransactionCancelledError{Failures: failures}
	}

	changes := make([]domain.StockChange, 0, len(req.Lines))
	for _, line := range req.Lines {
		change := r.apply(req.StoreID, line.ProductID, line.Delta)
		changes = append(changes, change)
		if r.movements != nil {
			r.movements.add(domain.NewStockMovement(change, req.Reason, req.OrderID))
		}
	}
	return changes, nil
}

// ListByStore returns every record of a store ordered by product id
func (r *StockRepository) ListByStore(ctx context.Context, storeID string) ([]*domain.StockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.StockRecord, 0)
	for _, rec := range r.records {
		if rec.StoreID == storeID {
			cp := rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListStoreIDs returns the distinct stores holding stock records
func (r *StockRepository) ListStoreIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	for _, rec := range r.records {
		seen[rec.StoreID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// check mirrors the conditional filters of the Mongo adapter. Must hold mu.
func (r *StockRepository) check(storeID, productID string, delta int64) error {
	if err := domain.CheckStockDelta(delta); err != nil {
		return err
	}
	rec, ok := r.records[stockKey(storeID, productID)]
	if delta >= 0 {
		if !ok {
			return nil
		}
		return domain.CheckIncrement(productID, rec.CurrentStock, delta)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if rec.CurrentStock < -delta {
		return domain.NewInsufficientStockError(productID, rec.CurrentStock, -delta)
	}
	return nil
}

// apply performs an already checked change. Must hold mu.
func (r *StockRepository) apply(storeID, productID string, delta int64) domain.StockChange {
	now := time.Now().UTC()
	key := stockKey(storeID, productID)
	rec, exists := r.records[key]
	if !exists {
		rec = domain.StockRecord{
			StoreID:           storeID,
			ProductID:         productID,
			UnitPrice:         domain.Zero,
			LowStockThreshold: domain.DefaultLowStockThreshold,
			Status:            domain.ProductStatusActive,
			CreatedAt:         now,
		}
	}
	previous := rec.CurrentStock
	rec.CurrentStock += delta
	rec.UpdatedAt = now
	r.records[key] = rec

	snapshot := rec
	return domain.StockChange{
		StoreID:       storeID,
		ProductID:     productID,
		Delta:         delta,
		PreviousStock: previous,
		NewStock:      rec.CurrentStock,
		Created:       !exists,
		Record:        &snapshot,
	}
}
