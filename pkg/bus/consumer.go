package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"storefront/internal/event"
	"storefront/pkg/tracing"
)

// Handler processes one fetched message. Returning nil acknowledges the
// message; returning an error leaves it uncommitted so the broker delivers
// it again. Handlers convert every business failure into an outcome event
// and return nil for it; only infrastructure failures propagate.
type Handler func(ctx context.Context, msg kafka.Message) error

// Fetcher is the reader surface the consumer needs; *kafka.Reader and test
// stubs both satisfy it.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer dispatches messages from one consumer-group reader, one at a
// time. The barrier mutex is held around each handler+commit pair; Close
// takes the same mutex, so a commit can never cross the boundary of a
// reader that has already left the group.
type Consumer struct {
	log     *slog.Logger
	reader  Fetcher
	handler Handler
	barrier sync.Mutex
}

// NewConsumer subscribes a consumer group to the given topics.
func NewConsumer(log *slog.Logger, brokers, topics []string, group string, handler Handler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: topics,
		GroupID:     group,
	})
	return &Consumer{log: log, reader: r, handler: handler}
}

// NewConsumerWithReader wires an explicit reader; used by tests.
func NewConsumerWithReader(log *slog.Logger, reader Fetcher, handler Handler) *Consumer {
	return &Consumer{log: log, reader: reader, handler: handler}
}

// Run fetches and dispatches until the context is cancelled or the reader
// fails. It returns nil on context cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		c.barrier.Lock()
		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		if err := c.handler(msgCtx, msg); err != nil {
			c.log.Error("handler failed, message left uncommitted",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			c.barrier.Unlock()
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		}
		c.barrier.Unlock()
	}
}

// Close waits for the in-flight handler, then closes the reader.
func (c *Consumer) Close() error {
	c.barrier.Lock()
	defer c.barrier.Unlock()
	return c.reader.Close()
}

// EventHandler adapts a typed event handler to the raw message Handler. An
// undecodable payload is logged and acknowledged; redelivering it can never
// succeed.
func EventHandler(log *slog.Logger, h func(ctx context.Context, ev event.Event) error) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := event.Decode(msg.Value)
		if err != nil {
			log.Error("undecodable message acknowledged", "topic", msg.Topic, "offset", msg.Offset, "err", err)
			return nil
		}
		return h(ctx, ev)
	}
}
