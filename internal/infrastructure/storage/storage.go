// Package storage opens the repositories selected by configuration
package storage

import (
	"context"
	"fmt"

	"github.com/retail-platform/ledger-service/internal/config"
	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/internal/infrastructure/cache"
	"github.com/retail-platform/ledger-service/internal/infrastructure/memory"
	mongoRepo "github.com/retail-platform/ledger-service/internal/infrastructure/mongodb"
	"github.com/retail-platform/ledger-service/pkg/idempotency"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/mongodb"
)

// Storage holds every repository the services depend on
type Storage struct {
	Balances    domain.BalanceRepository
	Ledger      domain.LedgerRepository
	Stock       domain.StockRepository
	Movements   domain.MovementRepository
	Counters    domain.CounterRepository
	Cache       domain.SummaryCache
	Idempotency idempotency.Repository

	client *mongodb.Client
}

// Open connects to the configured driver and creates indexes
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Storage, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		movements := memory.NewMovementRepository()
		return &Storage{
			Balances:    memory.NewBalanceRepository(),
			Ledger:      memory.NewLedgerRepository(),
			Stock:       memory.NewStockRepository(movements),
			Movements:   movements,
			Counters:    memory.NewCounterRepository(),
			Cache:       cache.NewMemorySummaryCache(),
			Idempotency: idempotency.NewMemoryRepository(),
		}, nil
	}

	client, err := mongodb.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	logger.Info("Connected to MongoDB", "database", cfg.MongoDB.Database)

	s := &Storage{client: client}
	if err := s.openMongo(ctx, cfg); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("MongoDB indexes ensured")
	return s, nil
}

func (s *Storage) openMongo(ctx context.Context, cfg *config.Config) error {
	db := s.client.Database()

	var err error
	if s.Balances, err = mongoRepo.NewBalanceRepository(ctx, db); err != nil {
		return err
	}
	if s.Ledger, err = mongoRepo.NewLedgerRepository(ctx, db); err != nil {
		return err
	}
	if s.Stock, err = mongoRepo.NewStockRepository(ctx, db); err != nil {
		return err
	}
	if s.Movements, err = mongoRepo.NewMovementRepository(ctx, db); err != nil {
		return err
	}
	if s.Counters, err = mongoRepo.NewCounterRepository(ctx, db); err != nil {
		return err
	}

	if cfg.Stock.CacheDriver == config.DriverMemory {
		s.Cache = cache.NewMemorySummaryCache()
	} else if s.Cache, err = cache.NewMongoSummaryCache(ctx, db); err != nil {
		return err
	}

	idem := idempotency.NewMongoRepository(db)
	if err := idem.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create idempotency indexes: %w", err)
	}
	s.Idempotency = idem
	return nil
}

// HealthCheck pings the database. In-memory storage is always ready.
func (s *Storage) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.HealthCheck(ctx)
}

// Close disconnects from the database
func (s *Storage) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close(ctx)
}
