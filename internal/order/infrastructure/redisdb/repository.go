// Package redisdb implements the order store and the per-correlation
// response streams the request bridge blocks on. The response-consumer
// transaction commits the idempotency record, the stream entry and the
// order mutation in one WATCH/MULTI/EXEC, so the visible order state
// changes exactly once even under redelivery.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/order/domain"
	"storefront/pkg/codec"
	"storefront/pkg/retry"
)

// ErrUnavailable is returned once the bounded retries around the store are
// exhausted.
var ErrUnavailable = errors.New("DB error")

type Repository struct {
	log     *slog.Logger
	rdb     *redis.Client
	policy  retry.Policy
	idemTTL time.Duration
}

func NewRepository(log *slog.Logger, rdb *redis.Client, policy retry.Policy, idemTTL time.Duration) *Repository {
	if idemTTL <= 0 {
		idemTTL = time.Hour
	}
	return &Repository{log: log, rdb: rdb, policy: policy, idemTTL: idemTTL}
}

// CreateOrder stores a fresh unpaid order with no items and returns its id.
func (r *Repository) CreateOrder(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	data, err := codec.Encode(domain.Order{Paid: false, Items: []event.Item{}, UserID: userID, TotalCost: 0})
	if err != nil {
		return "", err
	}
	if err := r.policy.Do(ctx, func() error {
		return r.rdb.Set(ctx, id, data, 0).Err()
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// BatchInit seeds orders "0".."n-1", each holding two random items for a
// random user, priced at 2*itemPrice.
func (r *Repository) BatchInit(ctx context.Context, n, nItems, nUsers, itemPrice int) error {
	pairs := make([]any, 0, 2*n)
	for i := 0; i < n; i++ {
		o := domain.Order{
			Paid: false,
			Items: []event.Item{
				{ItemID: fmt.Sprintf("%d", rand.Intn(nItems)), Quantity: 1},
				{ItemID: fmt.Sprintf("%d", rand.Intn(nItems)), Quantity: 1},
			},
			UserID:    fmt.Sprintf("%d", rand.Intn(nUsers)),
			TotalCost: 2 * itemPrice,
		}
		data, err := codec.Encode(o)
		if err != nil {
			return err
		}
		pairs = append(pairs, fmt.Sprintf("%d", i), data)
	}
	if err := r.policy.Do(ctx, func() error {
		return r.rdb.MSet(ctx, pairs...).Err()
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetOrder loads one order.
func (r *Repository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	err := r.policy.Do(ctx, func() error {
		data, err := r.rdb.Get(ctx, id).Bytes()
		if err != nil {
			return err
		}
		return codec.Decode(data, &o)
	})
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return o, nil
}

// RecordOutcome applies a terminal event for the response consumer: the
// idempotency record (TTL 1h), the stream entry the bridge is blocked on,
// and the order mutation, all in one transaction. Both the order key and
// the idempotency key are watched, so a concurrent replica that already
// recorded the outcome invalidates this transaction and the retry finds the
// record present. The returned bool reports whether this call applied the
// outcome (false means it was already recorded).
func (r *Repository) RecordOutcome(ctx context.Context, orderID, idemKey string, ev event.Event, mutate domain.MutateFunc) (bool, error) {
	keys := []string{idemKey}
	if mutate != nil {
		keys = append(keys, orderID)
	}

	applied := false
	txn := func(tx *redis.Tx) error {
		if err := tx.Get(ctx, idemKey).Err(); err == nil {
			return nil
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		out := ev
		var orderData []byte
		if mutate != nil {
			data, err := tx.Get(ctx, orderID).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrNotFound, orderID)
			}
			if err != nil {
				return err
			}
			var o domain.Order
			if err := codec.Decode(data, &o); err != nil {
				return err
			}
			if out, err = mutate(&o); err != nil {
				return err
			}
			if orderData, err = codec.Encode(o); err != nil {
				return err
			}
		}

		record, err := codec.Encode(out)
		if err != nil {
			return err
		}

		stream := event.ResponseStream(out.CorrelationID)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if orderData != nil {
				pipe.Set(ctx, orderID, orderData, 0)
			}
			pipe.Set(ctx, idemKey, record, r.idemTTL)
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]any{"data": record}})
			pipe.Expire(ctx, stream, r.idemTTL)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	if err := r.watchLoop(ctx, txn, keys...); err != nil {
		return false, err
	}
	return applied, nil
}

// WaitResponse blocks on the per-correlation stream until the consumer
// appends the outcome or the timeout expires. The stream is deleted after a
// successful read. Transient read errors are retried within the policy
// bounds; expiry returns ErrResponseTimeout without touching any state.
func (r *Repository) WaitResponse(ctx context.Context, correlationID string, timeout time.Duration) (event.Event, error) {
	stream := event.ResponseStream(correlationID)

	policy := r.policy
	policy.ShouldRetry = func(err error) bool {
		return !errors.Is(err, redis.Nil) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}

	var ev event.Event
	err := policy.Do(ctx, func() error {
		res, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, "0"},
			Count:   1,
			Block:   timeout,
		}).Result()
		if err != nil {
			return err
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			return redis.Nil
		}
		data, ok := res[0].Messages[0].Values["data"].(string)
		if !ok {
			return fmt.Errorf("malformed stream entry on %s", stream)
		}
		return codec.Decode([]byte(data), &ev)
	})
	if errors.Is(err, redis.Nil) {
		return event.Event{}, domain.ErrResponseTimeout
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := r.rdb.Del(ctx, stream).Err(); err != nil {
		r.log.Warn("response stream cleanup failed", "stream", stream, "err", err)
	}
	return ev, nil
}

func (r *Repository) watchLoop(ctx context.Context, txn func(*redis.Tx) error, keys ...string) error {
	attempts := r.policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.rdb.Watch(ctx, txn, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			r.log.Warn("concurrency conflict, transaction retried", "attempt", attempt)
			continue
		case errors.Is(err, domain.ErrNotFound):
			return err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			r.log.Error("store error", "attempt", attempt, "err", err)
			if attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.policy.Backoff):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
