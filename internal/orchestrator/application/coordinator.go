// Package application wires the saga engine to the checkout transaction:
// CheckoutRequested builds a two-step saga (subtract stock, then pay) whose
// commands, compensations and terminal actions are closures over the
// request, publishing on the participant topics.
package application

import (
	"context"
	"errors"
	"log/slog"

	"storefront/internal/event"
	"storefront/internal/saga"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

type Coordinator struct {
	log   *slog.Logger
	sagas *saga.Manager
	pub   Publisher
}

func NewCoordinator(log *slog.Logger, sagas *saga.Manager, pub Publisher) *Coordinator {
	return &Coordinator{log: log, sagas: sagas, pub: pub}
}

// HandleEvent routes one event from order-operations, stock-responses or
// payment-responses. Step outcomes go to the saga engine; compensation
// outcomes are only observed here, because by the time they arrive the saga
// that requested them is already gone.
func (c *Coordinator) HandleEvent(ctx context.Context, ev event.Event) error {
	switch ev.Type {
	case event.TypeCheckoutRequested:
		return c.startCheckout(ctx, ev)

	case event.TypeStockSubtracted, event.TypeStockError,
		event.TypePaymentProcessed, event.TypePaymentError:
		c.sagas.HandleEvent(ctx, ev)
		return nil

	case event.TypeStockCompensated, event.TypeRefundProcessed:
		c.log.Info("compensation confirmed", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return nil

	case event.TypeStockCompensationFailed, event.TypeRefundError:
		// No automatic escalation exists for a failed compensation; this log
		// line is the alertable signal.
		c.log.Error("compensation failed", "type", ev.Type, "correlation_id", ev.CorrelationID, "error", ev.Error)
		return nil

	default:
		// FindItem traffic between order and stock shares the response topic.
		c.log.Debug("event ignored", "type", ev.Type, "correlation_id", ev.CorrelationID)
		return nil
	}
}

func (c *Coordinator) startCheckout(ctx context.Context, req event.Event) error {
	steps := []saga.Step{
		{
			Command: func(ctx context.Context, _ event.Event) error {
				return c.pub.Publish(ctx, event.TopicStockOperations, event.Event{
					Type:          event.TypeSubtractStock,
					CorrelationID: req.CorrelationID,
					OrderID:       req.OrderID,
					Items:         req.Items,
				})
			},
			Compensation: func(ctx context.Context, _ event.Event) error {
				return c.pub.Publish(ctx, event.TopicStockOperations, event.Event{
					Type:          event.TypeAddStock,
					CorrelationID: req.CorrelationID,
					OrderID:       req.OrderID,
					Items:         req.Items,
				})
			},
			SuccessEvent: event.TypeStockSubtracted,
			ErrorEvent:   event.TypeStockError,
		},
		{
			Command: func(ctx context.Context, _ event.Event) error {
				return c.pub.Publish(ctx, event.TopicPaymentOperations, event.Event{
					Type:          event.TypePay,
					CorrelationID: req.CorrelationID,
					OrderID:       req.OrderID,
					UserID:        req.UserID,
					Amount:        req.Amount,
				})
			},
			Compensation: func(ctx context.Context, _ event.Event) error {
				return c.pub.Publish(ctx, event.TopicPaymentOperations, event.Event{
					Type:          event.TypeRefund,
					CorrelationID: req.CorrelationID,
					OrderID:       req.OrderID,
					UserID:        req.UserID,
					Amount:        req.Amount,
				})
			},
			SuccessEvent: event.TypePaymentProcessed,
			ErrorEvent:   event.TypePaymentError,
		},
	}

	commit := func(ctx context.Context, _ event.Event) error {
		return c.pub.Publish(ctx, event.TopicOrchestratorResponses, event.Event{
			Type:          event.TypeCheckoutSuccess,
			CorrelationID: req.CorrelationID,
			OrderID:       req.OrderID,
		})
	}
	abort := func(ctx context.Context, cause event.Event) error {
		return c.pub.Publish(ctx, event.TopicOrchestratorResponses, event.Event{
			Type:          event.TypeCheckoutFailed,
			CorrelationID: req.CorrelationID,
			OrderID:       req.OrderID,
			Error:         cause.Error,
		})
	}

	inst, err := c.sagas.Build(req.CorrelationID, steps, commit, abort)
	if errors.Is(err, saga.ErrDuplicateSaga) {
		c.log.Warn("checkout already in flight, duplicate request dropped", "correlation_id", req.CorrelationID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.sagas.Start(ctx, inst, req); err != nil {
		// The saga aborted on emission failure and CheckoutFailed went back
		// to the order service; the message can be acknowledged.
		c.log.Error("checkout saga failed to start", "correlation_id", req.CorrelationID, "err", err)
	}
	return nil
}
