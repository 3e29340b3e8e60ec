package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/retail-platform/ledger-service/internal/domain"
)

// LedgerRepository is an in-process domain.LedgerRepository
type LedgerRepository struct {
	mu        sync.RWMutex
	records   []*domain.TransactionRecord
	byID      map[string]*domain.TransactionRecord
	reversals map[string]string
	keys      map[string]string
}

// NewLedgerRepository creates an empty ledger
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		byID:      make(map[string]*domain.TransactionRecord),
		reversals: make(map[string]string),
		keys:      make(map[string]string),
	}
}

func reversalKey(storeID, originalID string) string {
	return storeID + "|" + originalID
}

func idempotencyKey(storeID string, txType domain.TransactionType, key string) string {
	return storeID + "|" + string(txType) + "|" + key
}

// Append stores a copy of record. Transaction ids, reversal references and
// idempotency keys per store and type are unique.
func (r *LedgerRepository) Append(ctx context.Context, record *domain.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[record.TransactionID]; exists {
		return domain.ErrDuplicateTransaction
	}
	revKey := ""
	if record.Type == domain.TransactionTypeReversal && record.ReferenceID != "" {
		revKey = reversalKey(record.StoreID, record.ReferenceID)
		if _, exists := r.reversals[revKey]; exists {
			return domain.ErrDuplicateTransaction
		}
	}
	idemKey := ""
	if record.IdempotencyKey != "" {
		idemKey = idempotencyKey(record.StoreID, record.Type, record.IdempotencyKey)
		if _, exists := r.keys[idemKey]; exists {
			return domain.ErrDuplicateTransaction
		}
	}
	if revKey != "" {
		r.reversals[revKey] = record.TransactionID
	}
	if idemKey != "" {
		r.keys[idemKey] = record.TransactionID
	}

	cp := cloneRecord(record)
	r.records = append(r.records, cp)
	r.byID[cp.TransactionID] = cp
	return nil
}

// FindByID returns the record with the given id within a store
func (r *LedgerRepository) FindByID(ctx context.Context, storeID, transactionID string) (*domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[transactionID]
	if !ok || rec.StoreID != storeID {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneRecord(rec), nil
}

// FindByIdempotencyKey returns the record written under key
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, storeID string, txType domain.TransactionType, key string) (*domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[idempotencyKey(storeID, txType, key)]
	if !ok || key == "" {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneRecord(r.byID[id]), nil
}

// FindReversalOf returns the reversal of originalID
func (r *LedgerRepository) FindReversalOf(ctx context.Context, storeID, originalID string) (*domain.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.reversals[reversalKey(storeID, originalID)]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return cloneRecord(r.byID[id]), nil
}

// List returns one page of a customer's records, newest first
func (r *LedgerRepository) List(ctx context.Context, query domain.LedgerQuery) (*domain.LedgerPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	matched := make([]*domain.TransactionRecord, 0)
	for _, rec := range r.records {
		if rec.StoreID != query.StoreID || rec.CustomerPhone != query.CustomerPhone {
			continue
		}
		if query.From != nil && rec.CreatedAt.Before(*query.From) {
			continue
		}
		if query.To != nil && rec.CreatedAt.After(*query.To) {
			continue
		}
		if c := query.Cursor; c != nil {
			if rec.CreatedAt.After(c.CreatedAt) ||
				(rec.CreatedAt.Equal(c.CreatedAt) && rec.TransactionID >= c.TransactionID) {
				continue
			}
		}
		matched = append(matched, cloneRecord(rec))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].TransactionID > matched[j].TransactionID
	})

	page := &domain.LedgerPage{Transactions: matched}
	if query.Limit > 0 && len(matched) > query.Limit {
		page.Transactions = matched[:query.Limit]
		last := page.Transactions[query.Limit-1]
		page.Next = &domain.LedgerCursor{CreatedAt: last.CreatedAt, TransactionID: last.TransactionID}
	}
	return page, nil
}

// Count returns the number of stored records
func (r *LedgerRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func cloneRecord(rec *domain.TransactionRecord) *domain.TransactionRecord {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.Items != nil {
		cp.Items = append([]domain.LineItem(nil), rec.Items...)
	}
	return &cp
}
