package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

// DefaultSummaryTTL is how long a computed summary is served from cache
const DefaultSummaryTTL = 60 * time.Second

// InventorySummaryService serves cached store summaries and rebuilds the
// best-effort counters from full scans.
type InventorySummaryService struct {
	stock    domain.StockRepository
	counters domain.CounterRepository
	cache    domain.SummaryCache
	ttl      time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// NewInventorySummaryService creates a new InventorySummaryService
func NewInventorySummaryService(
	stock domain.StockRepository,
	counters domain.CounterRepository,
	cache domain.SummaryCache,
	ttl time.Duration,
	logger *logging.Logger,
	m *metrics.Metrics,
) *InventorySummaryService {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &InventorySummaryService{
		stock:    stock,
		counters: counters,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.WithComponent("inventory-summary"),
		metrics:  m,
		tracer:   otel.Tracer("ledger-service/summary"),
		now:      time.Now,
	}
}

// GetInventorySummary returns the store summary, from cache unless skipCache
// is set. A miss computes it from a full scan and repopulates the cache.
func (s *InventorySummaryService) GetInventorySummary(ctx context.Context, query GetInventorySummaryQuery) (summary *domain.InventorySummary, err error) {
	ctx, span := s.tracer.Start(ctx, "InventorySummaryService.GetInventorySummary", trace.WithAttributes(
		attribute.String("store.id", query.StoreID),
		attribute.Bool("cache.skip", query.SkipCache),
	))
	defer func() { tracing.EndSpan(span, err) }()

	if err := validateCommand(query); err != nil {
		return nil, err
	}
	log := s.logger.WithContext(ctx).WithStore(query.StoreID)

	if query.SkipCache {
		s.metrics.RecordSummaryCache("bypass")
	} else {
		cached, err := s.cache.Get(ctx, query.StoreID)
		if err != nil {
			log.Warn("Summary cache read failed", "error", err)
		}
		if cached != nil {
			s.metrics.RecordSummaryCache("hit")
			cached.FromCache = true
			return cached, nil
		}
		s.metrics.RecordSummaryCache("miss")
	}

	summary, err = s.scan(ctx, query.StoreID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, summary, s.ttl); err != nil {
		log.Warn("Summary cache write failed", "error", err)
	}
	return summary, nil
}

// GetCounters returns the store's pre-aggregated counters, or zero counters
// when none have been written yet.
func (s *InventorySummaryService) GetCounters(ctx context.Context, storeID string) (*domain.SummaryCounters, error) {
	return tracing.TracedOperation(ctx, s.tracer, "InventorySummaryService.GetCounters", func(ctx context.Context) (*domain.SummaryCounters, error) {
		counters, err := s.counters.Get(ctx, storeID)
		if err != nil {
			return nil, storageError(err)
		}
		if counters == nil {
			counters = &domain.SummaryCounters{StoreID: storeID, StockValue: domain.Zero}
		}
		return counters, nil
	}, attribute.String("store.id", storeID))
}

// ReconcileCounters rebuilds the counters of storeID, or of every store when
// storeID is empty, from a full scan. Running it twice is harmless.
func (s *InventorySummaryService) ReconcileCounters(ctx context.Context, storeID string) ([]ReconciliationResult, error) {
	stores := []string{storeID}
	if storeID == "" {
		ids, err := s.stock.ListStoreIDs(ctx)
		if err != nil {
			return nil, storageError(err)
		}
		stores = ids
	}

	results := make([]ReconciliationResult, 0, len(stores))
	for _, id := range stores {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.reconcileStore(ctx, id)
		s.metrics.RecordReconciliation(err == nil)
		if err != nil {
			return results, fmt.Errorf("reconcile store %s: %w", id, err)
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *InventorySummaryService) reconcileStore(ctx context.Context, storeID string) (result *ReconciliationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "InventorySummaryService.ReconcileCounters",
		trace.WithAttributes(attribute.String("store.id", storeID)))
	defer func() { tracing.EndSpan(span, err) }()

	before, err := s.counters.Get(ctx, storeID)
	if err != nil {
		return nil, storageError(err)
	}

	summary, err := s.scan(ctx, storeID)
	if err != nil {
		return nil, err
	}

	after := domain.CountersFromSummary(summary)
	after.ReconciledAt = summary.CapturedAt
	if err := s.counters.Replace(ctx, after); err != nil {
		return nil, storageError(err)
	}

	log := s.logger.WithContext(ctx).WithStore(storeID)
	if err := s.cache.Invalidate(ctx, storeID); err != nil {
		log.Warn("Failed to invalidate summary cache", "error", err)
	}

	drifted := countersDiffer(before, after)
	if drifted {
		log.Warn("Summary counters drifted; rebuilt from scan",
			"outOfStock", after.OutOfStock,
			"lowStock", after.LowStock,
			"stockValue", after.StockValue.String(),
		)
	} else {
		log.Info("Summary counters reconciled")
	}

	return &ReconciliationResult{
		StoreID:      storeID,
		Before:       before,
		After:        after,
		Drifted:      drifted,
		ReconciledAt: after.ReconciledAt,
	}, nil
}

func (s *InventorySummaryService) scan(ctx context.Context, storeID string) (*domain.InventorySummary, error) {
	records, err := s.stock.ListByStore(ctx, storeID)
	if err != nil {
		return nil, storageError(err)
	}
	return domain.Summarize(storeID, records, s.now().UTC().Truncate(time.Millisecond)), nil
}

func countersDiffer(before, after *domain.SummaryCounters) bool {
	if before == nil {
		return after.OutOfStock != 0 || after.LowStock != 0 || !after.StockValue.IsZero()
	}
	return before.OutOfStock != after.OutOfStock ||
		before.LowStock != after.LowStock ||
		!before.StockValue.Equal(after.StockValue)
}
