package kafka

import "time"

// Config holds Kafka producer configuration
type Config struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"client_id"`

	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	RequiredAcks int           `yaml:"required_acks"` // 0: none, 1: leader, -1: all replicas
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		ClientID:     "ledger-service",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
		WriteTimeout: 5 * time.Second,
	}
}

// Topics contains the topic names this service publishes to
var Topics = struct {
	LedgerEvents    string
	InventoryEvents string
}{
	LedgerEvents:    "retail.ledger.events",
	InventoryEvents: "retail.inventory.events",
}
