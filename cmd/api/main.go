package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retail-platform/ledger-service/internal/api"
	"github.com/retail-platform/ledger-service/internal/application"
	"github.com/retail-platform/ledger-service/internal/config"
	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/internal/infrastructure/events"
	"github.com/retail-platform/ledger-service/internal/infrastructure/storage"
	"github.com/retail-platform/ledger-service/pkg/idempotency"
	"github.com/retail-platform/ledger-service/pkg/kafka"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/middleware"
	"github.com/retail-platform/ledger-service/pkg/resilience"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

func main() {
	logger := logging.New(logging.DefaultConfig(config.ServiceName))
	logger.SetDefault()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig(config.ServiceName)
	logConfig.Level = logging.ParseLevel(cfg.Log.Level)
	logConfig.Environment = cfg.Environment
	logConfig.AddSource = cfg.Log.AddSource
	logger = logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting ledger-service API", "storage", cfg.Storage.Driver)
	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tracerProvider, err := tracing.Initialize(ctx, cfg.Tracing)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// Continue without tracing
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", cfg.Tracing.OTLPEndpoint, "enabled", cfg.Tracing.Enabled)
	}

	m := metrics.New(cfg.Metrics)
	logger.Info("Metrics initialized")

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open storage")
		os.Exit(1)
	}
	defer store.Close(context.Background())

	// Post-commit events
	var publisher domain.EventPublisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()

		breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("kafka-publisher"), logger.Logger)
		publisher = events.NewKafkaPublisher(producer, breaker, "/"+config.ServiceName, logger, m)
		logger.Info("Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	}

	idemConfig := idempotency.DefaultConfig(config.ServiceName)
	idemConfig.RequireKey = cfg.Ledger.RequireIdempotencyKey
	idemConfig.RetentionPeriod = cfg.Ledger.IdempotencyTTL
	idemConfig.Metrics = idempotency.NewMetrics(m.Registry())
	idemCache := idempotency.NewCache(store.Idempotency, idemConfig, logger.Logger)

	creditService := application.NewCreditLedgerService(
		store.Balances,
		store.Ledger,
		idemCache,
		publisher,
		application.CreditConfig{
			PrimaryRetries:      cfg.Ledger.PrimaryRetries,
			CompensationRetries: cfg.Ledger.CompensationRetries,
			DefaultCreditLimit:  cfg.DefaultCreditLimit(),
		},
		logger,
		m,
	)

	counterBreakerConfig := resilience.DefaultCircuitBreakerConfig("summary-counters")
	counterBreakerConfig.FailureThreshold = cfg.Stock.BreakerThreshold
	counterBreakerConfig.Timeout = cfg.Stock.BreakerTimeout
	stockService := application.NewStockService(
		store.Stock,
		store.Movements,
		store.Counters,
		store.Cache,
		publisher,
		resilience.NewCircuitBreaker(counterBreakerConfig, logger.Logger),
		application.StockConfig{
			MaxTransactionItems: cfg.Stock.MaxTransactionItems,
			RetryAttempts:       cfg.Stock.RetryAttempts,
			RetryInitialDelay:   cfg.Stock.RetryInitialDelay,
			RetryMaxDelay:       cfg.Stock.RetryMaxDelay,
		},
		logger,
		m,
	)

	summaryService := application.NewInventorySummaryService(store.Stock, store.Counters, store.Cache, cfg.Stock.CacheTTL, logger, m)

	// Setup Gin router with middleware
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	middlewareConfig := middleware.DefaultConfig(config.ServiceName, logger.Logger)
	middlewareConfig.TrustedProxies = cfg.Server.TrustedProxies
	middleware.Setup(router, middlewareConfig)
	router.Use(middleware.MetricsMiddleware(m))

	router.GET("/health", middleware.HealthCheck(config.ServiceName))
	router.GET("/ready", middleware.ReadinessCheck(config.ServiceName, store.HealthCheck))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	api.RegisterRoutes(router.Group("/api/v1"), api.Services{
		Credit:  creditService,
		Stock:   stockService,
		Summary: summaryService,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := stockService.Drain(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Pending counter updates abandoned; run reconcile")
	}

	logger.Info("Server exited")
}
