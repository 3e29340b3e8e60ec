package memory

import (
	"context"
	"sync"
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// BalanceRepository is an in-process domain.BalanceRepository. The mutex
// stands in for the document store's single-record atomicity; version checks
// behave exactly as the conditional update does in MongoDB.
type BalanceRepository struct {
	mu      sync.Mutex
	records map[string]domain.BalanceRecord
}

// NewBalanceRepository creates an empty repository
func NewBalanceRepository() *BalanceRepository {
	return &BalanceRepository{records: make(map[string]domain.BalanceRecord)}
}

func balanceKey(storeID, phone string) string {
	return storeID + "|" + phone
}

// Get returns a copy of the stored record
func (r *BalanceRepository) Get(ctx context.Context, storeID, phone string) (*domain.BalanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[balanceKey(storeID, phone)]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &rec, nil
}

// Create inserts a new record unless one already exists
func (r *BalanceRepository) Create(ctx context.Context, record *domain.BalanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := balanceKey(record.StoreID, record.CustomerPhone)
	if _, exists := r.records[key]; exists {
		return domain.ErrVersionConflict
	}
	r.records[key] = *record
	return nil
}

// UpdateBalance applies the write only when the stored version matches
func (r *BalanceRepository) UpdateBalance(ctx context.Context, storeID, phone string, newBalance domain.Money, expectedVersion int64) (*domain.BalanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := balanceKey(storeID, phone)
	rec, ok := r.records[key]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	if rec.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	rec.OutstandingBalance = newBalance
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	r.records[key] = rec

	out := rec
	return &out, nil
}
