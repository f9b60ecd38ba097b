package application

import (
	"context"

	"storefront/internal/event"
	"storefront/internal/payment/domain"
)

type Repository interface {
	CreateUser(ctx context.Context) (string, error)
	BatchInit(ctx context.Context, n, credit int) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	Pay(ctx context.Context, userID string, amount int, idemKey string, outcome domain.OutcomeFunc) (int, error)
	Refund(ctx context.Context, userID string, amount int, idemKey string, outcome domain.OutcomeFunc) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (event.Event, bool, error)
	Record(ctx context.Context, key string, ev event.Event) error
}
