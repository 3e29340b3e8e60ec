package idempotency

import "time"

const (
	// DefaultMaxKeyLength is the maximum length for an idempotency key
	DefaultMaxKeyLength = 255

	// DefaultRetentionPeriod is how long outcomes are replayable
	DefaultRetentionPeriod = 24 * time.Hour
)

// Config holds configuration for the idempotency cache
type Config struct {
	// ServiceName labels metrics
	ServiceName string

	// RequireKey rejects mutating operations that arrive without a key.
	// When false, keyless operations always execute.
	RequireKey bool

	// MaxKeyLength is the maximum allowed length for an idempotency key
	MaxKeyLength int

	// RetentionPeriod is how long outcomes are retained
	RetentionPeriod time.Duration

	// Metrics is optional
	Metrics *Metrics
}

// DefaultConfig returns a default configuration for the given service
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:     serviceName,
		RequireKey:      false,
		MaxKeyLength:    DefaultMaxKeyLength,
		RetentionPeriod: DefaultRetentionPeriod,
	}
}
