package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/mongodb"
	"github.com/retail-platform/ledger-service/pkg/resilience"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

const (
	DefaultMaxTransactionItems = 100
	DefaultMovementPageSize    = 50

	counterUpdateTimeout = 5 * time.Second
)

// StockConfig tunes stock writes
type StockConfig struct {
	MaxTransactionItems int
	RetryAttempts       int
	RetryInitialDelay   time.Duration
	RetryMaxDelay       time.Duration
}

// DefaultStockConfig returns the standard stock settings
func DefaultStockConfig() StockConfig {
	return StockConfig{
		MaxTransactionItems: DefaultMaxTransactionItems,
		RetryAttempts:       resilience.DefaultRetryMaxAttempts,
		RetryInitialDelay:   resilience.DefaultRetryInitialDelay,
		RetryMaxDelay:       resilience.DefaultRetryMaxDelay,
	}
}

// StockService applies single-item and order-level stock changes and keeps
// the summary cache and counters in step with them.
type StockService struct {
	stock     domain.StockRepository
	movements domain.MovementRepository
	counters  domain.CounterRepository
	cache     domain.SummaryCache
	events    domain.EventPublisher
	breaker   *resilience.CircuitBreaker
	config    StockConfig
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	pending sync.WaitGroup
}

// NewStockService creates a new StockService. A nil breaker gets the default
// counter breaker.
func NewStockService(
	stock domain.StockRepository,
	movements domain.MovementRepository,
	counters domain.CounterRepository,
	cache domain.SummaryCache,
	events domain.EventPublisher,
	breaker *resilience.CircuitBreaker,
	config StockConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *StockService {
	logger = logger.WithComponent("stock")
	if events == nil {
		events = noopPublisher{}
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("summary-counters"), logger.Logger)
	}
	if config.MaxTransactionItems <= 0 {
		config.MaxTransactionItems = DefaultMaxTransactionItems
	}
	if config.RetryAttempts < 1 {
		config.RetryAttempts = 1
	}
	return &StockService{
		stock:     stock,
		movements: movements,
		counters:  counters,
		cache:     cache,
		events:    events,
		breaker:   breaker,
		config:    config,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("ledger-service/stock"),
	}
}

// AdjustStock applies delta to one product. Decrements never take stock below
// zero; increments create the record when it does not exist.
func (s *StockService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (dto *StockAdjustmentDTO, err error) {
	ctx, span := s.tracer.Start(ctx, "StockService.AdjustStock", trace.WithAttributes(
		attribute.String("store.id", cmd.StoreID),
		attribute.String("product.id", cmd.ProductID),
		attribute.Int64("stock.delta", cmd.Delta),
	))
	defer func() { tracing.EndSpan(span, err) }()

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.Reason == "" {
		cmd.Reason = string(domain.ReasonAdjustment)
	}

	change, err := resilience.RetryWithResult(ctx, s.retryConfig(ctx, cmd.StoreID), func() (*domain.StockChange, error) {
		return s.stock.Adjust(ctx, cmd.StoreID, cmd.ProductID, cmd.Delta)
	})
	s.metrics.RecordStockAdjustment(cmd.Delta, err == nil)
	if err != nil {
		err = storageError(err)
		s.logFailure(ctx, "adjust_stock", cmd.StoreID, err, "productId", cmd.ProductID, "delta", cmd.Delta)
		return nil, err
	}

	s.afterCommit(ctx, cmd.StoreID, []domain.StockChange{*change}, cmd.Reason, "", true)

	result := toStockAdjustmentDTO(*change)
	return &result, nil
}

// ApplyOrderStockChanges applies every line of an order in one transaction.
// A rejected order changes nothing and reports every failing line.
func (s *StockService) ApplyOrderStockChanges(ctx context.Context, cmd ApplyOrderStockChangesCommand) (result *BulkStockResult, err error) {
	ctx, span := s.tracer.Start(ctx, "StockService.ApplyOrderStockChanges", trace.WithAttributes(
		attribute.String("store.id", cmd.StoreID),
		attribute.String("order.id", cmd.OrderID),
		attribute.Int("order.items", len(cmd.Items)),
	))
	defer func() {
		s.metrics.RecordBulkStockOrder(len(cmd.Items), err == nil)
		tracing.EndSpan(span, err)
	}()

	if err := s.validateOrder(cmd); err != nil {
		return bulkFailure(err), err
	}
	if cmd.Reason == "" {
		cmd.Reason = string(domain.ReasonOrder)
	}

	req := domain.BatchRequest{
		StoreID: cmd.StoreID,
		Lines:   cmd.Items,
		Reason:  cmd.Reason,
		OrderID: cmd.OrderID,
	}
	changes, err := resilience.RetryWithResult(ctx, s.retryConfig(ctx, cmd.StoreID), func() ([]domain.StockChange, error) {
		return s.stock.ApplyBatch(ctx, req)
	})
	if err != nil {
		err = storageError(err)
		s.logFailure(ctx, "apply_order", cmd.StoreID, err, "orderId", cmd.OrderID, "items", len(cmd.Items))
		return bulkFailure(err), err
	}

	s.afterCommit(ctx, cmd.StoreID, changes, cmd.Reason, cmd.OrderID, false)

	result = &BulkStockResult{
		Success: true,
		Changes: make([]StockAdjustmentDTO, 0, len(changes)),
		Message: fmt.Sprintf("%d item(s) updated", len(changes)),
	}
	for _, change := range changes {
		result.Changes = append(result.Changes, toStockAdjustmentDTO(change))
	}
	return result, nil
}

// UpsertProduct creates or replaces a product's stock record
func (s *StockService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (*domain.StockRecord, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.UnitPrice.IsNegative() {
		return nil, domain.NewFieldError("unitPrice", "must not be negative")
	}
	if err := cmd.UnitPrice.CheckAmount(); err != nil {
		return nil, err
	}

	previous, err := s.stock.Get(ctx, cmd.StoreID, cmd.ProductID)
	if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
		return nil, storageError(err)
	}

	record := &domain.StockRecord{
		StoreID:           cmd.StoreID,
		ProductID:         cmd.ProductID,
		Name:              cmd.Name,
		CurrentStock:      cmd.CurrentStock,
		UnitPrice:         cmd.UnitPrice,
		LowStockThreshold: cmd.LowStockThreshold,
		Status:            cmd.Status,
	}
	if record.Status == "" {
		record.Status = domain.ProductStatusActive
	}
	if err := s.stock.Save(ctx, record); err != nil {
		return nil, storageError(err)
	}

	if err := s.cache.Invalidate(ctx, cmd.StoreID); err != nil {
		s.logger.WithContext(ctx).Warn("Failed to invalidate summary cache", "storeId", cmd.StoreID, "error", err)
	}
	s.updateCounters(ctx, cmd.StoreID, domain.CounterDeltaBetween(previous, record))

	s.logger.WithContext(ctx).Info("Product stock record saved",
		"storeId", cmd.StoreID,
		"productId", cmd.ProductID,
		"currentStock", cmd.CurrentStock,
	)
	return s.stock.Get(ctx, cmd.StoreID, cmd.ProductID)
}

// GetStock returns one product's stock record
func (s *StockService) GetStock(ctx context.Context, storeID, productID string) (*domain.StockRecord, error) {
	return tracing.TracedOperation(ctx, s.tracer, "StockService.GetStock", func(ctx context.Context) (*domain.StockRecord, error) {
		return s.stock.Get(ctx, storeID, productID)
	}, attribute.String("store.id", storeID), attribute.String("product.id", productID))
}

// ListMovements returns a product's most recent stock movements
func (s *StockService) ListMovements(ctx context.Context, storeID, productID string, limit int) ([]*domain.StockMovement, error) {
	if limit <= 0 {
		limit = DefaultMovementPageSize
	}
	if limit > MaxLedgerPageSize {
		limit = MaxLedgerPageSize
	}
	return s.movements.ListByProduct(ctx, storeID, productID, limit)
}

// Drain waits for in-flight counter updates, or until ctx is done
func (s *StockService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StockService) validateOrder(cmd ApplyOrderStockChangesCommand) error {
	if len(cmd.Items) == 0 {
		return domain.NewFieldError("items", "at least one item is required")
	}
	if len(cmd.Items) > s.config.MaxTransactionItems {
		return fmt.Errorf("%w: %d items, maximum is %d", domain.ErrOrderTooLarge, len(cmd.Items), s.config.MaxTransactionItems)
	}
	if err := validateCommand(cmd); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cmd.Items))
	for _, line := range cmd.Items {
		if _, dup := seen[line.ProductID]; dup {
			return domain.NewFieldError("items", fmt.Sprintf("product %s appears more than once", line.ProductID))
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// retryConfig retries transient storage errors with exponential backoff
func (s *StockService) retryConfig(ctx context.Context, storeID string) *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = s.config.RetryAttempts
	cfg.InitialDelay = s.config.RetryInitialDelay
	cfg.MaxDelay = s.config.RetryMaxDelay
	cfg.RetryableErrors = mongodb.IsTransient
	cfg.OnRetry = func(attempt int, err error) {
		s.metrics.RecordStockRetry()
		s.logger.WithContext(ctx).Debug("Retrying stock write after transient error",
			"storeId", storeID,
			"attempt", attempt,
			"error", err,
		)
	}
	return cfg
}

// afterCommit runs the best-effort follow-ups of a committed stock change.
// None of them can fail the operation.
func (s *StockService) afterCommit(ctx context.Context, storeID string, changes []domain.StockChange, reason, orderID string, recordMovements bool) {
	log := s.logger.WithContext(ctx).WithStore(storeID)

	if err := s.cache.Invalidate(ctx, storeID); err != nil {
		log.Warn("Failed to invalidate summary cache", "error", err)
	}

	delta := domain.CounterDelta{StockValue: domain.Zero}
	for _, change := range changes {
		delta = delta.Add(domain.CounterDeltaFor(change))
	}
	s.updateCounters(ctx, storeID, delta)

	if recordMovements {
		for _, change := range changes {
			if err := s.movements.Append(ctx, domain.NewStockMovement(change, reason, orderID)); err != nil {
				log.Warn("Failed to record stock movement", "productId", change.ProductID, "error", err)
			}
		}
	}

	event := &domain.StockAdjustedEvent{
		Store:      storeID,
		Reason:     reason,
		OrderID:    orderID,
		Changes:    changes,
		AdjustedAt: time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish stock event", "error", err)
	}
}

// updateCounters applies delta in the background through the counter breaker
func (s *StockService) updateCounters(ctx context.Context, storeID string, delta domain.CounterDelta) {
	if delta.IsZero() {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), counterUpdateTimeout)
		defer cancel()

		err := s.breaker.Run(bg, func() error {
			return s.counters.Increment(bg, storeID, delta)
		})
		switch {
		case err == nil:
			s.metrics.RecordCounterUpdate("success")
		case errors.Is(err, resilience.ErrCircuitOpen):
			s.metrics.RecordCounterUpdate("skipped")
		default:
			s.metrics.RecordCounterUpdate("failed")
			s.logger.WithContext(bg).Warn("Summary counter update failed; reconciliation will repair it",
				"storeId", storeID,
				"error", err,
			)
		}
	}()
}

func (s *StockService) logFailure(ctx context.Context, operation, storeID string, err error, args ...any) {
	log := s.logger.WithContext(ctx).WithOperation(operation).WithStore(storeID)
	args = append(args, "code", domain.CodeOf(err), "error", err)
	if domain.IsClientError(err) {
		log.Warn("Stock change rejected", args...)
		return
	}
	log.Error("Stock change failed", args...)
}

// storageError keeps coded domain errors and classifies everything else as a
// database failure.
func storageError(err error) error {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDatabase, err)
}

func bulkFailure(err error) *BulkStockResult {
	result := &BulkStockResult{
		Success:   false,
		Message:   err.Error(),
		ErrorCode: domain.CodeOf(err),
	}
	var cancelled *domain.TransactionCancelledError
	if errors.As(err, &cancelled) {
		result.FailedItems = cancelled.Failures
	}
	return result
}
