package domain

import (
	"context"
	"time"
)

// BalanceRepository is the versioned store of customer balances. Writes are
// conditional on the version the caller read.
type BalanceRepository interface {
	// Get returns ErrCustomerNotFound when the account does not exist
	Get(ctx context.Context, storeID, phone string) (*BalanceRecord, error)
	// Create inserts a version 0 record, or returns ErrVersionConflict if another writer created it first
	Create(ctx context.Context, record *BalanceRecord) error
	// UpdateBalance sets the balance and bumps the version when the stored version equals expectedVersion
	UpdateBalance(ctx context.Context, storeID, phone string, newBalance Money, expectedVersion int64) (*BalanceRecord, error)
}

// LedgerRepository is the append-only history of balance changes
type LedgerRepository interface {
	// Append returns ErrDuplicateTransaction when the id, a reversal of the same original,
	// or the same idempotency key for the store and type already exists
	Append(ctx context.Context, record *TransactionRecord) error
	FindByID(ctx context.Context, storeID, transactionID string) (*TransactionRecord, error)
	// FindByIdempotencyKey returns the record written under key, or ErrTransactionNotFound
	FindByIdempotencyKey(ctx context.Context, storeID string, txType TransactionType, key string) (*TransactionRecord, error)
	// FindReversalOf returns the reversal that references originalID, or ErrTransactionNotFound
	FindReversalOf(ctx context.Context, storeID, originalID string) (*TransactionRecord, error)
	List(ctx context.Context, query LedgerQuery) (*LedgerPage, error)
}

// BatchRequest is an all-or-nothing set of stock changes for one store
type BatchRequest struct {
	StoreID string
	Lines   []OrderLine
	Reason  string
	OrderID string
}

// StockRepository holds per-product stock quantities
type StockRepository interface {
	// Get returns ErrProductNotFound when the product has no stock record
	Get(ctx context.Context, storeID, productID string) (*StockRecord, error)
	Save(ctx context.Context, record *StockRecord) error
	// Adjust applies delta atomically. Decrements are conditioned on sufficient stock and
	// fail with *InsufficientStockError or ErrProductNotFound; increments upsert from 0.
	Adjust(ctx context.Context, storeID, productID string, delta int64) (*StockChange, error)
	// ApplyBatch commits every line and its movement record, or none of them. A rejected
	// batch returns *TransactionCancelledError naming every failing line.
	ApplyBatch(ctx context.Context, req BatchRequest) ([]StockChange, error)
	ListByStore(ctx context.Context, storeID string) ([]*StockRecord, error)
	ListStoreIDs(ctx context.Context) ([]string, error)
}

// CounterRepository holds best-effort pre-aggregated stock indicators
type CounterRepository interface {
	// Get returns nil without error when no counters exist for the store
	Get(ctx context.Context, storeID string) (*SummaryCounters, error)
	Increment(ctx context.Context, storeID string, delta CounterDelta) error
	Replace(ctx context.Context, counters *SummaryCounters) error
}

// MovementRepository is the append-only stock audit trail
type MovementRepository interface {
	Append(ctx context.Context, movement *StockMovement) error
	ListByProduct(ctx context.Context, storeID, productID string, limit int) ([]*StockMovement, error)
}

// SummaryCache stores computed inventory summaries with a TTL. Get returns
// nil without error on a miss.
type SummaryCache interface {
	Get(ctx context.Context, storeID string) (*InventorySummary, error)
	Set(ctx context.Context, summary *InventorySummary, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}
