// Package events publishes committed domain events. Publishing is
// post-commit and best-effort: callers log failures and carry on.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/retail-platform/ledger-service/internal/domain"
	"github.com/retail-platform/ledger-service/pkg/kafka"
	"github.com/retail-platform/ledger-service/pkg/logging"
	"github.com/retail-platform/ledger-service/pkg/metrics"
	"github.com/retail-platform/ledger-service/pkg/resilience"
	"github.com/retail-platform/ledger-service/pkg/tracing"
)

// EventWriter is the subset of kafka.Producer the publisher needs
type EventWriter interface {
	PublishEvent(ctx context.Context, topic string, event *kafka.Event) error
}

// KafkaPublisher implements domain.EventPublisher on top of a Kafka producer.
// A circuit breaker stops hammering an unavailable cluster.
type KafkaPublisher struct {
	writer  EventWriter
	breaker *resilience.CircuitBreaker
	source  string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewKafkaPublisher creates a publisher. source becomes the CloudEvents source attribute.
func NewKafkaPublisher(writer EventWriter, breaker *resilience.CircuitBreaker, source string, logger *logging.Logger, m *metrics.Metrics) *KafkaPublisher {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("kafka-publisher"), logger.Logger)
	}
	return &KafkaPublisher{
		writer:  writer,
		breaker: breaker,
		source:  source,
		logger:  logger.WithComponent("event-publisher"),
		metrics: m,
	}
}

// Publish wraps the domain event in an envelope and writes it to its topic
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	topic := TopicFor(event)
	envelope := Envelope(ctx, p.source, event)

	start := time.Now()
	err := p.breaker.Run(ctx, func() error {
		return p.writer.PublishEvent(ctx, topic, envelope)
	})
	duration := time.Since(start)

	p.metrics.RecordKafkaPublish(topic, event.EventType(), err == nil, duration)
	p.logger.KafkaPublish(ctx, topic, event.EventType(), err == nil, duration)

	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}
	return nil
}

// TopicFor routes an event to the topic of its aggregate
func TopicFor(event domain.DomainEvent) string {
	switch event.(type) {
	case *domain.StockAdjustedEvent:
		return kafka.Topics.InventoryEvents
	default:
		return kafka.Topics.LedgerEvents
	}
}

// Envelope builds the wire event. The subject is store-qualified so the
// partition key keeps one customer or product in order.
func Envelope(ctx context.Context, source string, event domain.DomainEvent) *kafka.Event {
	envelope := kafka.NewEvent(
		event.EventType(),
		source,
		event.StoreID()+"/"+event.AggregateID(),
		event,
	)
	envelope.Time = event.OccurredAt()
	envelope.WithExtension("storeid", event.StoreID())

	if v, ok := ctx.Value(logging.CorrelationIDKey).(string); ok {
		envelope.WithExtension("correlationid", v)
	}

	carrier := tracing.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)
	envelope.WithExtension("traceparent", carrier.Get("traceparent"))

	return envelope
}

// NoopPublisher drops every event. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.DomainEvent) error { return nil }
