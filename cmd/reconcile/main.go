// Command reconcile rebuilds the inventory summary counters from full scans of
// the stock records. It is idempotent and safe to run while the API serves
// traffic.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/retail-platform/ledger-service/internal/application"
	"github.com/retail-platform/ledger-service/internal/config"
	"github.com/retail-platform/ledger-service/internal/infrastructure/storage"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
)

func main() {
	storeID := flag.String("store", "", "reconcile a single store (default: every store)")
	timeout := flag.Duration("timeout", 30*time.Minute, "abort after this long")
	flag.Parse()

	logger := logging.New(logging.DefaultConfig(config.ServiceName + "-reconcile"))
	logger.SetDefault()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Error("Reconciliation needs persistent storage; storage.driver is memory")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if code := run(ctx, cfg, *storeID, logger); code != 0 {
		stop()
		cancel()
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg *config.Config, storeID string, logger *logging.Logger) int {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open storage")
		return 1
	}
	defer store.Close(context.Background())

	m := metrics.New(cfg.Metrics)
	service := application.NewInventorySummaryService(store.Stock, store.Counters, store.Cache, cfg.Stock.CacheTTL, logger, m)

	start := time.Now()
	results, err := service.ReconcileCounters(ctx, storeID)

	drifted := 0
	for _, r := range results {
		if r.Drifted {
			drifted++
		}
	}
	logger.Info("Reconciliation finished", "stores", len(results), "drifted", drifted)
	logger.Performance(ctx, "reconcile_counters", time.Since(start), err == nil, map[string]any{
		"storeFilter": storeID,
	})

	if err != nil {
		logger.WithError(err).Error("Reconciliation aborted")
		return 1
	}
	return 0
}
