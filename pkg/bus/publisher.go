// Package bus adapts the Kafka client to the event contract the services
// share: JSON payloads keyed by correlation id, per-key ordered delivery,
// at-least-once consumption with manual commit.
package bus

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"storefront/internal/event"
	"storefront/pkg/tracing"
)

// Producer is the writer surface the publisher needs; *kafka.Writer and test
// stubs both satisfy it.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns the long-lived producer shared by a service. The hash
// balancer keeps equal keys on one partition, which is what gives every
// saga its in-order event delivery.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

type Publisher struct {
	log      *slog.Logger
	producer Producer
}

func NewPublisher(log *slog.Logger, producer Producer) *Publisher {
	return &Publisher{log: log, producer: producer}
}

// Publish writes ev to topic keyed by its correlation id.
func (p *Publisher) Publish(ctx context.Context, topic string, ev event.Event) error {
	payload, err := event.Marshal(ev)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}}
	headers = tracing.InjectKafkaHeaders(ctx, headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(ev.CorrelationID),
		Value:   payload,
		Headers: headers,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("publish failed", "topic", topic, "type", ev.Type, "correlation_id", ev.CorrelationID, "err", err)
		return err
	}
	p.log.Info("event published", "topic", topic, "type", ev.Type, "correlation_id", ev.CorrelationID)
	return nil
}
