package application

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/internal/infrastructure/cache"
	"github.com/retail-platform/ledger-service/internal/infrastructure/memory"
	"github.com/retail-platform/ledger-service/pkg/logging"
)

type stockFixture struct {
	svc       *StockService
	summaries *InventorySummaryService
	stock     *memory.StockRepository
	movements *memory.MovementRepository
	counters  *memory.CounterRepository
	cache     *cache.MemorySummaryCache
	events    *recordingPublisher
}

func newStockFixture(t *testing.T) *stockFixture {
	t.Helper()
	movements := memory.NewMovementRepository()
	f := &stockFixture{
		stock:     memory.NewStockRepository(movements),
		movements: movements,
		counters:  memory.NewCounterRepository(),
		cache:     cache.NewMemorySummaryCache(),
		events:    &recordingPublisher{},
	}
	f.svc = f.build(f.stock)
	f.summaries = NewInventorySummaryService(f.stock, f.counters, f.cache, time.Minute, logging.NewNop(), nil)
	return f
}

func (f *stockFixture) build(stock domain.StockRepository) *StockService {
	cfg := DefaultStockConfig()
	cfg.MaxTransactionItems = 5
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return NewStockService(stock, f.movements, f.counters, f.cache, f.events, nil, cfg, logging.NewNop(), nil)
}

func (f *stockFixture) seed(t *testing.T, productID string, stock int64) {
	t.Helper()
	_, err := f.svc.UpsertProduct(context.Background(), UpsertProductCommand{
		StoreID:           testStore,
		ProductID:         productID,
		Name:              "Product " + productID,
		CurrentStock:      stock,
		UnitPrice:         domain.MoneyFromInt(2),
		LowStockThreshold: 2,
	})
	require.NoError(t, err)
}

func (f *stockFixture) current(t *testing.T, productID string) int64 {
	t.Helper()
	rec, err := f.stock.Get(context.Background(), testStore, productID)
	require.NoError(t, err)
	return rec.CurrentStock
}

func (f *stockFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Drain(ctx))
}

func adjust(productID string, delta int64) AdjustStockCommand {
	return AdjustStockCommand{StoreID: testStore, ProductID: productID, Delta: delta}
}

func order(lines ...domain.OrderLine) ApplyOrderStockChangesCommand {
	return ApplyOrderStockChangesCommand{StoreID: testStore, OrderID: "ORD-1", Items: lines}
}

func TestStock_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)
	f.seed(t, "P", 10)

	dto, err := f.svc.AdjustStock(ctx, adjust("P", -3))
	require.NoError(t, err)
	assert.Equal(t, int64(10), dto.PreviousStock)
	assert.Equal(t, int64(7), dto.NewStock)

	result, err := f.svc.ApplyOrderStockChanges(ctx, order(domain.OrderLine{ProductID: "P", Delta: -10}))
	require.ErrorIs(t, err, domain.ErrTransactionCancelled)
	assert.False(t, result.Success)
	require.Len(t, result.FailedItems, 1)
	assert.Equal(t, domain.CodeInsufficientStock, result.FailedItems[0].Code)
	assert.Equal(t, int64(3), result.FailedItems[0].Shortfall)
	assert.Equal(t, int64(7), f.current(t, "P"))
}

func TestStock_DecrementNeverGoesNegative(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "P", 3)

	_, err := f.svc.AdjustStock(context.Background(), adjust("P", -5))
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(3), stockErr.Current)
	assert.Equal(t, int64(2), stockErr.Shortfall)
	assert.Equal(t, int64(3), f.current(t, "P"))
	assert.Empty(t, f.events.all())
}

func TestStock_AdjustEdgeCases(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)

	_, err := f.svc.AdjustStock(ctx, adjust("ghost", -1))
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	dto, err := f.svc.AdjustStock(ctx, adjust("new", 4))
	require.NoError(t, err)
	assert.Equal(t, int64(0), dto.PreviousStock)
	assert.Equal(t, int64(4), dto.NewStock)

	dto, err = f.svc.AdjustStock(ctx, adjust("new", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(4), dto.NewStock)

	_, err = f.svc.AdjustStock(ctx, AdjustStockCommand{StoreID: testStore, ProductID: "", Delta: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStock_RejectsOutOfRangeDeltas(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)
	f.seed(t, "P", 10)
	f.seed(t, "FULL", math.MaxInt64-5)

	for _, delta := range []int64{math.MinInt64, math.MaxInt64, domain.MaxStockDelta + 1} {
		_, err := f.svc.AdjustStock(ctx, adjust("P", delta))
		assert.ErrorIs(t, err, domain.ErrValidation, "delta %d", delta)

		result, err := f.svc.ApplyOrderStockChanges(ctx, order(domain.OrderLine{ProductID: "P", Delta: delta}))
		assert.ErrorIs(t, err, domain.ErrValidation, "delta %d", delta)
		assert.False(t, result.Success)
	}
	assert.Equal(t, int64(10), f.current(t, "P"))

	_, err := f.svc.AdjustStock(ctx, adjust("FULL", 10))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(math.MaxInt64-5), f.current(t, "FULL"))

	result, err := f.svc.ApplyOrderStockChanges(ctx, order(
		domain.OrderLine{ProductID: "P", Delta: -1},
		domain.OrderLine{ProductID: "FULL", Delta: 10},
	))
	require.ErrorIs(t, err, domain.ErrTransactionCancelled)
	require.Len(t, result.FailedItems, 1)
	assert.Equal(t, domain.CodeValidation, result.FailedItems[0].Code)
	assert.Equal(t, int64(10), f.current(t, "P"))
	assert.Empty(t, f.events.all())
}

func TestStock_ConcurrentDecrementsStopAtZero(t *testing.T) {
	const buyers = 25
	f := newStockFixture(t)
	f.seed(t, "P", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.AdjustStock(context.Background(), adjust("P", -1)); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	assert.Equal(t, int64(0), f.current(t, "P"))
}

func TestStock_BulkIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)
	f.seed(t, "A", 10)
	f.seed(t, "B", 1)
	f.seed(t, "C", 5)

	result, err := f.svc.ApplyOrderStockChanges(ctx, order(
		domain.OrderLine{ProductID: "A", Delta: -2},
		domain.OrderLine{ProductID: "B", Delta: -5},
		domain.OrderLine{ProductID: "C", Delta: 1},
	))
	require.ErrorIs(t, err, domain.ErrTransactionCancelled)
	assert.Equal(t, domain.CodeTransactionCancelled, result.ErrorCode)
	require.Len(t, result.FailedItems, 1)
	assert.Equal(t, "B", result.FailedItems[0].ProductID)
	assert.Equal(t, 1, result.FailedItems[0].Index)

	assert.Equal(t, int64(10), f.current(t, "A"))
	assert.Equal(t, int64(1), f.current(t, "B"))
	assert.Equal(t, int64(5), f.current(t, "C"))

	movements, err := f.svc.ListMovements(ctx, testStore, "A", 0)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestStock_BulkReportsEveryFailingLine(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "A", 1)

	result, err := f.svc.ApplyOrderStockChanges(context.Background(), order(
		domain.OrderLine{ProductID: "A", Delta: -2},
		domain.OrderLine{ProductID: "missing", Delta: -1},
	))
	require.Error(t, err)
	require.Len(t, result.FailedItems, 2)
	assert.Equal(t, domain.CodeInsufficientStock, result.FailedItems[0].Code)
	assert.Equal(t, domain.CodeProductNotFound, result.FailedItems[1].Code)
}

func TestStock_BulkCommitsEveryLine(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)
	f.seed(t, "A", 10)
	f.seed(t, "B", 3)

	result, err := f.svc.ApplyOrderStockChanges(ctx, order(
		domain.OrderLine{ProductID: "A", Delta: -4},
		domain.OrderLine{ProductID: "B", Delta: -3},
		domain.OrderLine{ProductID: "C", Delta: 6},
	))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Changes, 3)

	assert.Equal(t, int64(6), f.current(t, "A"))
	assert.Equal(t, int64(0), f.current(t, "B"))
	assert.Equal(t, int64(6), f.current(t, "C"))

	movements, err := f.svc.ListMovements(ctx, testStore, "B", 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "ORD-1", movements[0].OrderID)
	assert.Equal(t, int64(-3), movements[0].Delta)

	events := f.events.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1].(*domain.StockAdjustedEvent)
	assert.Equal(t, "ORD-1", last.AggregateID())
	assert.Len(t, last.Changes, 3)
}

func TestStock_BulkRejectsMalformedOrders(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "A", 10)

	lines := func(n int) []domain.OrderLine {
		out := make([]domain.OrderLine, n)
		for i := range out {
			out[i] = domain.OrderLine{ProductID: "P" + string(rune('a'+i)), Delta: 1}
		}
		return out
	}

	tests := []struct {
		name    string
		cmd     ApplyOrderStockChangesCommand
		wantErr error
	}{
		{name: "empty", cmd: order(), wantErr: domain.ErrValidation},
		{name: "duplicate product", cmd: order(domain.OrderLine{ProductID: "A", Delta: -1}, domain.OrderLine{ProductID: "A", Delta: -1}), wantErr: domain.ErrValidation},
		{name: "too many items", cmd: order(lines(6)...), wantErr: domain.ErrOrderTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.ApplyOrderStockChanges(context.Background(), tt.cmd)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, result.Success)
			assert.Equal(t, int64(10), f.current(t, "A"))
		})
	}
}

func TestStock_RetriesTransientErrors(t *testing.T) {
	f := newStockFixture(t)
	f.seed(t, "P", 5)
	flaky := &transientStock{StockRepository: f.stock, failures: 2}
	svc := f.build(flaky)

	dto, err := svc.AdjustStock(context.Background(), adjust("P", -1))
	require.NoError(t, err)
	assert.Equal(t, int64(4), dto.NewStock)
	assert.Equal(t, 3, flaky.calls)

	flaky.failures = 10
	_, err = svc.AdjustStock(context.Background(), adjust("P", -1))
	require.ErrorIs(t, err, domain.ErrDatabase)
	assert.Equal(t, int64(4), f.current(t, "P"))
}

func TestStock_CommitInvalidatesCacheAndUpdatesCounters(t *testing.T) {
	ctx := context.Background()
	f := newStockFixture(t)
	f.seed(t, "A", 10)
	f.seed(t, "B", 1)

	first, err := f.summaries.GetInventorySummary(ctx, GetInventorySummaryQuery{StoreID: testStore})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	_, err = f.svc.AdjustStock(ctx, adjust("B", -1))
	require.NoError(t, err)

	second, err := f.summaries.GetInventorySummary(ctx, GetInventorySummaryQuery{StoreID: testStore})
	require.NoError(t, err)
	assert.False(t, second.FromCache, "adjustment must invalidate the cached summary")
	assert.Equal(t, int64(1), second.OutOfStock)
	assert.Equal(t, "20.00", second.TotalStockValue.String())

	f.drain(t)
	counters, err := f.summaries.GetCounters(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.OutOfStock)
	assert.Equal(t, int64(0), counters.LowStock)
	assert.Equal(t, "20.00", counters.StockValue.String())

	movements, err := f.svc.ListMovements(ctx, testStore, "B", 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, string(domain.ReasonAdjustment), movements[0].Reason)
}

// transientStock fails the first failures calls with a retryable server error
type transientStock struct {
	domain.StockRepository
	failures int
	calls    int
}

func (s *transientStock) Adjust(ctx context.Context, storeID, productID string, delta int64) (*domain.StockChange, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, mongo.CommandError{Code: 91, Name: "ShutdownInProgress", Labels: []string{"RetryableWriteError"}}
	}
	return s.StockRepository.Adjust(ctx, storeID, productID, delta)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []domain.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DomainEvent(nil), p.events...)
}
