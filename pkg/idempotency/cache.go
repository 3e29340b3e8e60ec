package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Request identifies a keyed operation.
type Request struct {
	Operation   string
	StoreID     string
	Key         string
	Fingerprint string
}

// Scope namespaces keys per operation and store so two stores may reuse
// the same client-generated key.
func (r Request) Scope() string {
	if r.StoreID == "" {
		return r.Operation
	}
	return r.Operation + ":" + r.StoreID
}

// Cache answers retried operations from their stored outcome.
type Cache struct {
	repo   Repository
	config *Config
	logger *slog.Logger
	now    func() time.Time
}

// NewCache creates a cache over the given repository
func NewCache(repo Repository, config *Config, logger *slog.Logger) *Cache {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.MaxKeyLength <= 0 {
		config.MaxKeyLength = DefaultMaxKeyLength
	}
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = DefaultRetentionPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// RequireKey reports whether keyless mutating operations are rejected
func (c *Cache) RequireKey() bool {
	return c.config.RequireKey
}

// Check returns the stored outcome for req, or nil when the operation must
// execute. A request without a key executes unless keys are required.
func (c *Cache) Check(ctx context.Context, req Request) (*Outcome, error) {
	req.Key = NormalizeKey(req.Key)
	if req.Key == "" {
		if c.config.RequireKey {
			return nil, ErrKeyRequired
		}
		return nil, nil
	}

	if err := ValidateKeyWithMaxLength(req.Key, c.config.MaxKeyLength); err != nil {
		return nil, err
	}

	entry, err := c.repo.Get(ctx, req.Scope(), req.Key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.count("miss", req.Operation)
			return nil, nil
		}
		c.storageError("get")
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	if entry.IsExpired(c.now()) {
		c.count("miss", req.Operation)
		return nil, nil
	}

	if req.Fingerprint != "" && entry.RequestFingerprint != "" && entry.RequestFingerprint != req.Fingerprint {
		c.count("mismatch", req.Operation)
		c.logger.Warn("Idempotency key reused with different parameters",
			"scope", req.Scope(),
			"key", req.Key,
		)
		return nil, ErrParameterMismatch
	}

	c.count("hit", req.Operation)
	outcome := entry.Outcome
	return &outcome, nil
}

// Store records the outcome of a committed operation. Keyless requests are
// not stored.
func (c *Cache) Store(ctx context.Context, req Request, outcome Outcome) error {
	req.Key = NormalizeKey(req.Key)
	if req.Key == "" {
		return nil
	}

	now := c.now().UTC()
	entry := &Entry{
		Key:                req.Key,
		Scope:              req.Scope(),
		RequestFingerprint: req.Fingerprint,
		Outcome:            outcome,
		CreatedAt:          now,
		ExpiresAt:          now.Add(c.config.RetentionPeriod),
	}

	if err := c.repo.Put(ctx, entry); err != nil {
		c.storageError("put")
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

func (c *Cache) count(kind string, operation string) {
	m := c.config.Metrics
	if m == nil {
		return
	}
	switch kind {
	case "hit":
		m.Hits.WithLabelValues(c.config.ServiceName, operation).Inc()
	case "miss":
		m.Misses.WithLabelValues(c.config.ServiceName, operation).Inc()
	case "mismatch":
		m.ParameterMismatches.WithLabelValues(c.config.ServiceName, operation).Inc()
	}
}

func (c *Cache) storageError(operation string) {
	if c.config.Metrics == nil {
		return
	}
	c.config.Metrics.StorageErrors.WithLabelValues(c.config.ServiceName, operation).Inc()
}
