// Package application holds the payment participant: idempotency check,
// CAS-protected credit mutation, correlated outcome on payment-responses.
package application

import (
	"context"
	"errors"
	"log/slog"

	"storefront/internal/event"
	"storefront/internal/payment/domain"
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
	return &Service{log: log, repo: repo, idem: idem, pub: pub, topic: event.TopicPaymentResponses}
}

// HandleEvent dispatches one command from payment-operations.
func (s *Service) HandleEvent(ctx context.Context, ev event.Event) error {
	switch ev.Type {
	case event.TypePay:
		return s.apply(ctx, ev, event.TypePaymentProcessed, event.TypePaymentError, s.repo.Pay)
	case event.TypeRefund:
		return s.apply(ctx, ev, event.TypeRefundProcessed, event.TypeRefundError, s.repo.Refund)
	default:
		s.log.Debug("event ignored", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return nil
	}
}

type adjustment func(ctx context.Context, userID string, amount int, idemKey string, outcome domain.OutcomeFunc) (int, error)

func (s *Service) apply(ctx context.Context, ev event.Event, successType, errorType string, adjust adjustment) error {
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
	credit, err := adjust(ctx, ev.UserID, ev.Amount, idemKey, func(newCredit int) ([]byte, error) {
		success.Credit = newCredit
		return codec.Encode(success)
	})
	if err == nil {
		success.Credit = credit
		return s.pub.Publish(ctx, s.topic, success)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	failure := ev
	failure.Type = errorType
	failure.Error = err.Error()
	if rerr := s.idem.Record(ctx, idemKey, failure); rerr != nil {
		return rerr
	}
	return s.pub.Publish(ctx, s.topic, failure)
}
