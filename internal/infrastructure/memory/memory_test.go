package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retail-platform/ledger-service/internal/domain"
)

func TestBalanceRepository_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewBalanceRepository()

	record, err := domain.NewBalanceRecord("store-1", "9876543210", "Asha", domain.MoneyFromInt(1000))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, record))
	assert.ErrorIs(t, repo.Create(ctx, record), domain.ErrVersionConflict)

	updated, err := repo.UpdateBalance(ctx, "store-1", "9876543210", domain.MoneyFromInt(600), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	_, err = repo.UpdateBalance(ctx, "store-1", "9876543210", domain.MoneyFromInt(700), 0)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := repo.Get(ctx, "store-1", "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "600.00", got.OutstandingBalance.String())

	_, err = repo.Get(ctx, "store-1", "0000000000")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestLedgerRepository_ListPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &domain.TransactionRecord{
			TransactionID: domain.NewTransactionID(domain.TransactionTypeCreditSale),
			StoreID:       "store-1",
			CustomerPhone: "9876543210",
			Type:          domain.TransactionTypeCreditSale,
			Amount:        domain.MoneyFromInt(int64(i + 1)),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := repo.List(ctx, domain.LedgerQuery{StoreID: "store-1", CustomerPhone: "9876543210", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.NotNil(t, page.Next)
	assert.Equal(t, "5.00", page.Transactions[0].Amount.String())

	var seen []string
	for _, tx := range page.Transactions {
		seen = append(seen, tx.Amount.String())
	}
	for page.Next != nil {
		page, err = repo.List(ctx, domain.LedgerQuery{StoreID: "store-1", CustomerPhone: "9876543210", Limit: 2, Cursor: page.Next})
		require.NoError(t, err)
		for _, tx := range page.Transactions {
			seen = append(seen, tx.Amount.String())
		}
	}
	assert.Equal(t, []string{"5.00", "4.00", "3.00", "2.00", "1.00"}, seen)
}

func TestLedgerRepository_SingleReversalPerOriginal(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	reversal := func() *domain.TransactionRecord {
		return &domain.TransactionRecord{
			TransactionID: domain.NewTransactionID(domain.TransactionTypeReversal),
			StoreID:       "store-1",
			Type:          domain.TransactionTypeReversal,
			ReferenceID:   "CS-1",
		}
	}

	require.NoError(t, repo.Append(ctx, reversal()))
	assert.ErrorIs(t, repo.Append(ctx, reversal()), domain.ErrDuplicateTransaction)

	found, err := repo.FindReversalOf(ctx, "store-1", "CS-1")
	require.NoError(t, err)
	assert.Equal(t, "CS-1", found.ReferenceID)
}

func TestStockRepository_AdjustRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := NewStockRepository(nil)
	require.NoError(t, repo.Save(ctx, &domain.StockRecord{StoreID: "s", ProductID: "p", CurrentStock: 3}))

	_, err := repo.Adjust(ctx, "s", "p", -5)
	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(3), stockErr.Current)
	assert.Equal(t, int64(2), stockErr.Shortfall)

	rec, err := repo.Get(ctx, "s", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.CurrentStock)

	_, err = repo.Adjust(ctx, "s", "missing", -1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	change, err := repo.Adjust(ctx, "s", "new", 4)
	require.NoError(t, err)
	assert.True(t, change.Created)
	assert.Equal(t, int64(4), change.NewStock)
}

func TestStockRepository_ApplyBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	movements := NewMovementRepository()
	repo := NewStockRepository(movements)
	require.NoError(t, repo.Save(ctx, &domain.StockRecord{StoreID: "s", ProductID: "a", CurrentStock: 10}))
	require.NoError(t, repo.Save(ctx, &domain.StockRecord{StoreID: "s", ProductID: "b", CurrentStock: 1}))

	_, err := repo.ApplyBatch(ctx, domain.BatchRequest{
		StoreID: "s",
		Lines:   []domain.OrderLine{{ProductID: "a", Delta: -2}, {ProductID: "b", Delta: -3}},
		Reason:  "order",
	})
	var cancelled *domain.TransactionCancelledError
	require.True(t, errors.As(err, &cancelled))
	require.Len(t, cancelled.Failures, 1)
	assert.Equal(t, "b", cancelled.Failures[0].ProductID)
	assert.Equal(t, 1, cancelled.Failures[0].Index)
	assert.Equal(t, int64(2), cancelled.Failures[0].Shortfall)

	a, _ := repo.Get(ctx, "s", "a")
	b, _ := repo.Get(ctx, "s", "b")
	assert.Equal(t, int64(10), a.CurrentStock)
	assert.Equal(t, int64(1), b.CurrentStock)

	changes, err := repo.ApplyBatch(ctx, domain.BatchRequest{
		StoreID: "s",
		Lines:   []domain.OrderLine{{ProductID: "a", Delta: -2}, {ProductID: "b", Delta: -1}},
		Reason:  "order",
		OrderID: "ord-1",
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(0), changes[1].NewStock)

	history, err := movements.ListByProduct(ctx, "s", "a", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ord-1", history[0].OrderID)
}

func TestLedgerRepository_IdempotencyKeyUniquePerStoreAndType(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository()

	record := func(store string, txType domain.TransactionType, key string) *domain.TransactionRecord {
		return &domain.TransactionRecord{
			TransactionID:  domain.NewTransactionID(txType),
			StoreID:        store,
			Type:           txType,
			Amount:         domain.MoneyFromInt(10),
			IdempotencyKey: key,
		}
	}

	first := record("store-1", domain.TransactionTypeCreditSale, "k-1")
	require.NoError(t, repo.Append(ctx, first))
	assert.ErrorIs(t, repo.Append(ctx, record("store-1", domain.TransactionTypeCreditSale, "k-1")), domain.ErrDuplicateTransaction)
	assert.Equal(t, 1, repo.Count())

	require.NoError(t, repo.Append(ctx, record("store-1", domain.TransactionTypePayment, "k-1")))
	require.NoError(t, repo.Append(ctx, record("store-2", domain.TransactionTypeCreditSale, "k-1")))
	require.NoError(t, repo.Append(ctx, record("store-1", domain.TransactionTypeCreditSale, "")))
	require.NoError(t, repo.Append(ctx, record("store-1", domain.TransactionTypeCreditSale, "")))

	found, err := repo.FindByIdempotencyKey(ctx, "store-1", domain.TransactionTypeCreditSale, "k-1")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, found.TransactionID)

	_, err = repo.FindByIdempotencyKey(ctx, "store-1", domain.TransactionTypeCreditSale, "")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestStockRepository_RejectsOverflowingDeltas(t *testing.T) {
	ctx := context.Background()
	repo := NewStockRepository(nil)
	require.NoError(t, repo.Save(ctx, &domain.StockRecord{StoreID: "s", ProductID: "p", CurrentStock: 10}))
	require.NoError(t, repo.Save(ctx, &domain.StockRecord{StoreID: "s", ProductID: "full", CurrentStock: math.MaxInt64 - 5}))

	for _, delta := range []int64{math.MinInt64, math.MaxInt64, domain.MaxStockDelta + 1, -domain.MaxStockDelta - 1} {
		_, err := repo.Adjust(ctx, "s", "p", delta)
		assert.ErrorIs(t, err, domain.ErrValidation, "delta %d", delta)
	}
	rec, err := repo.Get(ctx, "s", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.CurrentStock)

	_, err = repo.Adjust(ctx, "s", "full", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
	full, err := repo.Get(ctx, "s", "full")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-5), full.CurrentStock)

	_, err = repo.ApplyBatch(ctx, domain.BatchRequest{
		StoreID: "s",
		Lines:   []domain.OrderLine{{ProductID: "p", Delta: 1}, {ProductID: "full", Delta: 10}},
		Reason:  "restock",
	})
	var cancelled *domain.TransactionCancelledError
	require.True(t, errors.As(err, &cancelled))
	require.Len(t, cancelled.Failures, 1)
	assert.Equal(t, domain.CodeValidation, cancelled.Failures[0].Code)
	assert.Equal(t, "full", cancelled.Failures[0].ProductID)

	rec, err = repo.Get(ctx, "s", "p")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.CurrentStock)
}

func TestCounterRepository_Increment(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository()

	c, err := repo.Get(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, repo.Increment(ctx, "s", domain.CounterDelta{OutOfStock: 1, StockValue: domain.MoneyFromInt(5)}))
	require.NoError(t, repo.Increment(ctx, "s", domain.CounterDelta{LowStock: 2, StockValue: domain.MoneyFromInt(-2)}))

	c, err = repo.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.OutOfStock)
	assert.Equal(t, int64(2), c.LowStock)
	assert.Equal(t, "3.00", c.StockValue.String())
}
