package application

import (
	"context"
	"time"

	"storefront/internal/event"
	"storefront/internal/order/domain"
)

type Repository interface {
	CreateOrder(ctx context.Context, userID string) (string, error)
	BatchInit(ctx context.Context, n, nItems, nUsers, itemPrice int) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	RecordOutcome(ctx context.Context, orderID, idemKey string, ev event.Event, mutate domain.MutateFunc) (bool, error)
	WaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (event.Event, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (event.Event, bool, error)
}
