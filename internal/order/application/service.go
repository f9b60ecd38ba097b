// Package application holds the order side of the core: the request bridge
// that turns a synchronous HTTP call into a saga-triggering command and a
// blocking wait on the per-correlation response stream, and the response
// consumer that applies terminal events to the order exactly once.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront/internal/event"
	"storefront/internal/order/domain"
)

// ErrRejected means the saga ran to completion with a business rejection;
// the HTTP layer maps it to 400.
var ErrRejected = errors.New("request rejected")

const (
	DefaultFindTimeout     = 30 * time.Second
	DefaultCheckoutTimeout = 500 * time.Second
)

type Service struct {
	log             *slog.Logger
	repo            Repository
	idem            IdempotencyStore
	pub             Publisher
	findTimeout     time.Duration
	checkoutTimeout time.Duration
}

func NewService(log *slog.Logger, repo Repository, idem IdempotencyStore, pub Publisher, findTimeout, checkoutTimeout time.Duration) *Service {
	if findTimeout <= 0 {
		findTimeout = DefaultFindTimeout
	}
	if checkoutTimeout <= 0 {
		checkoutTimeout = DefaultCheckoutTimeout
	}
	return &Service{
		log:             log,
		repo:            repo,
		idem:            idem,
		pub:             pub,
		findTimeout:     findTimeout,
		checkoutTimeout: checkoutTimeout,
	}
}

// CreateOrder provisions an empty unpaid order for the user.
func (s *Service) CreateOrder(ctx context.Context, userID string) (string, error) {
	return s.repo.CreateOrder(ctx, userID)
}

// BatchInit seeds the order store for load tests.
func (s *Service) BatchInit(ctx context.Context, n, nItems, nUsers, itemPrice int) error {
	return s.repo.BatchInit(ctx, n, nItems, nUsers, itemPrice)
}

// GetOrder loads one order.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// AddItem publishes a FindItem command and blocks until the response
// consumer has persisted the item into the order and appended the outcome to
// the response stream. It returns the updated total cost. The order mutation
// happened on the consumer side; this path only reports it.
func (s *Service) AddItem(ctx context.Context, orderID, itemID string, quantity int) (int, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return 0, err
	}

	correlationID := uuid.NewString()
	cmd := event.Event{
		Type:          event.TypeFindItem,
		CorrelationID: correlationID,
		OrderID:       orderID,
		ItemID:        itemID,
		Quantity:      quantity,
	}
	if err := s.pub.Publish(ctx, event.TopicStockOperations, cmd); err != nil {
		return 0, err
	}

	resp, err := s.repo.WaitResponse(ctx, correlationID, s.findTimeout)
	if err != nil {
		return 0, err
	}
	if resp.Type != event.TypeItemFound {
		return 0, fmt.Errorf("%w: item %s does not exist", ErrRejected, itemID)
	}
	return resp.TotalCost, nil
}

// Checkout publishes CheckoutRequested and blocks until the orchestrator's
// terminal event lands on the response stream. The paid flag was flipped by
// the response consumer before the stream entry became visible.
func (s *Service) Checkout(ctx context.Context, orderID string) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	correlationID := uuid.NewString()
	cmd := event.Event{
		Type:          event.TypeCheckoutRequested,
		CorrelationID: correlationID,
		OrderID:       orderID,
		UserID:        o.UserID,
		Items:         o.Items,
		Amount:        o.TotalCost,
	}
	if err := s.pub.Publish(ctx, event.TopicOrderOperations, cmd); err != nil {
		return err
	}

	resp, err := s.repo.WaitResponse(ctx, correlationID, s.checkoutTimeout)
	if err != nil {
		return err
	}
	if resp.Type != event.TypeCheckoutSuccess {
		if resp.Error != "" {
			return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
		}
		return fmt.Errorf("%w: checkout failed", ErrRejected)
	}
	return nil
}

// HandleResponse consumes the terminal events addressed to the order
// service. Each is applied at most once: the idempotency record, the
// response-stream entry and the derived order mutation commit in a single
// store transaction, and a recorded outcome is skipped entirely.
func (s *Service) HandleResponse(ctx context.Context, ev event.Event) error {
	var mutate domain.MutateFunc
	switch ev.Type {
	case event.TypeItemFound:
		found := ev
		mutate = func(o *domain.Order) (event.Event, error) {
			o.AddItem(found.ItemID, found.Quantity, found.Price)
			enriched := found
			enriched.TotalCost = o.TotalCost
			return enriched, nil
		}
	case event.TypeCheckoutSuccess:
		mutate = func(o *domain.Order) (event.Event, error) {
			o.Paid = true
			return ev, nil
		}
	case event.TypeItemNotFound, event.TypeCheckoutFailed:
		// No domain mutation; the outcome still has to reach the stream.
	default:
		s.log.Debug("event ignored", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return nil
	}

	idemKey := event.IdempotencyKey(ev.Type, ev.CorrelationID)
	if _, seen, err := s.idem.Lookup(ctx, idemKey); err != nil {
		return err
	} else if seen {
		s.log.Info("outcome already recorded, skipped", "key", idemKey)
		return nil
	}

	applied, err := s.repo.RecordOutcome(ctx, ev.OrderID, idemKey, ev, mutate)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("outcome recorded by a concurrent consumer", "key", idemKey)
		return nil
	}
	s.log.Info("outcome applied", "type", ev.Type, "correlation_id", ev.CorrelationID, "order_id", ev.OrderID)
	return nil
}
