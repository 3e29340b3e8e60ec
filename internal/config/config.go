// Package config loads service configuration from an optional YAML file
// overlaid by environment variables. Every value has a default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/kafka"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/mongodb"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

const ServiceName = "ledger-service"

// Storage drivers
const (
	DriverMongoDB = "mongodb"
	DriverMemory  = "memory"
)

// Config holds application configuration
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	Storage     StorageConfig   `yaml:"storage"`
	MongoDB     *mongodb.Config `yaml:"mongodb"`
	Kafka       *kafka.Config   `yaml:"kafka"`
	Tracing     *tracing.Config `yaml:"tracing"`
	Metrics     *metrics.Config `yaml:"metrics"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Stock       StockConfig     `yaml:"stock"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

type StorageConfig struct {
	// Driver is mongodb or memory. memory is for local runs and tests only.
	Driver string `yaml:"driver"`
}

// LedgerConfig tunes the credit sagas and idempotency
type LedgerConfig struct {
	PrimaryRetries        int           `yaml:"primary_retries"`
	CompensationRetries   int           `yaml:"compensation_retries"`
	DefaultCreditLimit    string        `yaml:"default_credit_limit"`
	RequireIdempotencyKey bool          `yaml:"require_idempotency_key"`
	IdempotencyTTL        time.Duration `yaml:"idempotency_ttl"`
}

// StockConfig tunes stock writes, the summary cache and the counter breaker
type StockConfig struct {
	MaxTransactionItems int           `yaml:"max_transaction_items"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialDelay   time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	CacheDriver         string        `yaml:"cache_driver"`
	BreakerThreshold    uint32        `yaml:"breaker_threshold"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{Driver: DriverMongoDB},
		MongoDB: mongodb.DefaultConfig(),
		Kafka:   kafka.DefaultConfig(),
		Tracing: tracing.DefaultConfig(ServiceName),
		Metrics: metrics.DefaultConfig(ServiceName),
		Ledger: LedgerConfig{
			PrimaryRetries:      3,
			CompensationRetries: 10,
			DefaultCreditLimit:  "5000",
			IdempotencyTTL:      24 * time.Hour,
		},
		Stock: StockConfig{
			MaxTransactionItems: 100,
			RetryAttempts:       3,
			RetryInitialDelay:   100 * time.Millisecond,
			RetryMaxDelay:       5 * time.Second,
			CacheTTL:            60 * time.Second,
			CacheDriver:         DriverMongoDB,
			BreakerThreshold:    5,
			BreakerTimeout:      30 * time.Second,
		},
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)

	c.MongoDB.URI = getEnv("MONGODB_URI", c.MongoDB.URI)
	c.MongoDB.Database = getEnv("MONGODB_DATABASE", c.MongoDB.Database)
	c.MongoDB.Username = getEnv("MONGODB_USERNAME", c.MongoDB.Username)
	c.MongoDB.Password = getEnv("MONGODB_PASSWORD", c.MongoDB.Password)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)
	c.Tracing.Environment = c.Environment

	c.Ledger.PrimaryRetries = getEnvInt("LEDGER_PRIMARY_RETRIES", c.Ledger.PrimaryRetries)
	c.Ledger.CompensationRetries = getEnvInt("LEDGER_COMPENSATION_RETRIES", c.Ledger.CompensationRetries)
	c.Ledger.DefaultCreditLimit = getEnv("LEDGER_DEFAULT_CREDIT_LIMIT", c.Ledger.DefaultCreditLimit)
	c.Ledger.RequireIdempotencyKey = getEnvBool("LEDGER_REQUIRE_IDEMPOTENCY_KEY", c.Ledger.RequireIdempotencyKey)
	c.Ledger.IdempotencyTTL = getEnvDuration("LEDGER_IDEMPOTENCY_TTL", c.Ledger.IdempotencyTTL)

	c.Stock.MaxTransactionItems = getEnvInt("STOCK_MAX_TRANSACTION_ITEMS", c.Stock.MaxTransactionItems)
	c.Stock.RetryAttempts = getEnvInt("STOCK_RETRY_ATTEMPTS", c.Stock.RetryAttempts)
	c.Stock.CacheTTL = getEnvDuration("STOCK_CACHE_TTL", c.Stock.CacheTTL)
	c.Stock.CacheDriver = getEnv("STOCK_CACHE_DRIVER", c.Stock.CacheDriver)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Driver != DriverMongoDB && c.Storage.Driver != DriverMemory {
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", DriverMongoDB, DriverMemory, c.Storage.Driver))
	}
	if c.Stock.CacheDriver != DriverMongoDB && c.Stock.CacheDriver != DriverMemory {
		errs = append(errs, fmt.Errorf("stock.cache_driver must be %q or %q, got %q", DriverMongoDB, DriverMemory, c.Stock.CacheDriver))
	}
	if c.Storage.Driver == DriverMemory && c.Stock.CacheDriver == DriverMongoDB {
		errs = append(errs, errors.New("stock.cache_driver mongodb requires storage.driver mongodb"))
	}
	if c.Ledger.PrimaryRetries < 1 {
		errs = append(errs, errors.New("ledger.primary_retries must be at least 1"))
	}
	if c.Ledger.CompensationRetries < c.Ledger.PrimaryRetries {
		errs = append(errs, errors.New("ledger.compensation_retries must not be lower than ledger.primary_retries"))
	}
	if limit, err := domain.ParseMoney(c.Ledger.DefaultCreditLimit); err != nil || limit.IsNegative() {
		errs = append(errs, fmt.Errorf("ledger.default_credit_limit must be a non-negative amount, got %q", c.Ledger.DefaultCreditLimit))
	}
	if c.Stock.MaxTransactionItems < 1 {
		errs = append(errs, errors.New("stock.max_transaction_items must be at least 1"))
	}
	if c.Stock.RetryAttempts < 1 {
		errs = append(errs, errors.New("stock.retry_attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

// DefaultCreditLimit returns the parsed ledger default credit limit. Only
// valid after Validate.
func (c *Config) DefaultCreditLimit() domain.Money {
	limit, err := domain.ParseMoney(c.Ledger.DefaultCreditLimit)
	if err != nil {
		return domain.Zero
	}
	return limit
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
