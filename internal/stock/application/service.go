// Package application holds the stock participant: for every command event
// it checks the idempotency record, mutates the store under optimistic
// concurrency and publishes the correlated outcome on stock-responses.
package application

import (
	"context"
	"errors"
	"log/slog"

	"storefront/internal/event"
	"storefront/pkg/codec"
)

type Service struct {
	log   *slog.Logger
	repo  Repository
	idem  IdempotencyStore
	pub   Publisher
	topic string
}

func NewService(log *slog.Logger, repo Repository, idem IdempotencyStore, pub Publisher) *Service {
	return &Service{log: log, repo: repo, idem: idem, pub: pub, topic: event.TopicStockResponses}
}

// HandleEvent dispatches one command from stock-operations. Unknown types
// are acknowledged without action.
func (s *Service) HandleEvent(ctx context.Context, ev event.Event) error {
	switch ev.Type {
	case event.TypeFindItem:
		return s.findItem(ctx, ev)
	case event.TypeSubtractStock:
		return s.apply(ctx, ev, event.TypeStockSubtracted, event.TypeStockError, s.repo.SubtractStock)
	case event.TypeAddStock:
		return s.apply(ctx, ev, event.TypeStockCompensated, event.TypeStockCompensationFailed, s.repo.AddStock)
	default:
		s.log.Debug("event ignored", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return nil
	}
}

// findItem is read-only and safe to repeat, so it bypasses the idempotency
// record. Any failure, including a missing item, answers ItemNotFound.
func (s *Service) findItem(ctx context.Context, ev event.Event) error {
	item, err := s.repo.GetItem(ctx, ev.ItemID)
	if err != nil {
		s.log.Info("find item failed", "item_id", ev.ItemID, "err", err)
		notFound := ev
		notFound.Type = event.TypeItemNotFound
		return s.pub.Publish(ctx, s.topic, notFound)
	}

	found := ev
	found.Type = event.TypeItemFound
	found.Stock = item.Stock
	found.Price = item.Price
	return s.pub.Publish(ctx, s.topic, found)
}

type mutation func(ctx context.Context, items []event.Item, idemKey string, outcome []byte) error

func (s *Service) apply(ctx context.Context, ev event.Event, successType, errorType string, mutate mutation) error {
	idemKey := event.IdempotencyKey(ev.Type, ev.CorrelationID)
	prior, seen, err := s.idem.Lookup(ctx, idemKey)
	if err != nil {
		return err
	}
	if seen {
		s.log.Info("command already applied, replaying recorded outcome", "key", idemKey)
		return s.pub.Publish(ctx, s.topic, prior)
	}

	success := ev
	success.Type = successType
	outcome, err := codec.Encode(success)
	if err != nil {
		return err
	}

	err = mutate(ctx, ev.Items, idemKey, outcome)
	if err == nil {
		return s.pub.Publish(ctx, s.topic, success)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	failure := ev
	failure.Type = errorType
	failure.Error = err.Error()
	if rerr := s.idem.Record(ctx, idemKey, failure); rerr != nil {
		// The record could not be written; leave the message uncommitted so
		// the retry converges on a single recorded outcome.
		return rerr
	}
	return s.pub.Publish(ctx, s.topic, failure)
}
