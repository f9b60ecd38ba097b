// Package redisdb implements the stock store on Redis. Multi-item mutations
// run under WATCH/MULTI/EXEC: every touched key is watched before the first
// read, and the domain writes land in one transaction together with the
// idempotency record, so partial application is impossible.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/stock/domain"
	"storefront/pkg/codec"
	"storefront/pkg/retry"
)

// ErrUnavailable is returned once the bounded retries around the store are
// exhausted. Its message is the wire marker participants put on *_ERROR
// outcomes.
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

// CreateItem stores a fresh item with zero stock and returns its id.
func (r *Repository) CreateItem(ctx context.Context, price int) (string, error) {
	id := uuid.NewString()
	data, err := codec.Encode(domain.Item{Stock: 0, Price: price})
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

// BatchInit seeds items "0".."n-1" with the given stock and price via MSET.
func (r *Repository) BatchInit(ctx context.Context, n, stock, price int) error {
	pairs := make([]any, 0, 2*n)
	for i := 0; i < n; i++ {
		data, err := codec.Encode(domain.Item{Stock: stock, Price: price})
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

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, id string) (domain.Item, error) {
	var item domain.Item
	err := r.policy.Do(ctx, func() error {
		data, err := r.rdb.Get(ctx, id).Bytes()
		if err != nil {
			return err
		}
		return codec.Decode(data, &item)
	})
	if errors.Is(err, redis.Nil) {
		return domain.Item{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return item, nil
}

// SubtractStock decrements every item in the command, failing the whole
// command when any item is missing or would go negative. The outcome blob is
// written under idemKey in the same MULTI as the item updates.
func (r *Repository) SubtractStock(ctx context.Context, items []event.Item, idemKey string, outcome []byte) error {
	return r.mutate(ctx, items, idemKey, outcome, func(entry *domain.Item, qty int) error {
		entry.Stock -= qty
		if entry.Stock < 0 {
			return domain.ErrInsufficientStock
		}
		return nil
	})
}

// AddStock increments every item in the command; used as the compensation
// for SubtractStock and by the REST surface.
func (r *Repository) AddStock(ctx context.Context, items []event.Item, idemKey string, outcome []byte) error {
	return r.mutate(ctx, items, idemKey, outcome, func(entry *domain.Item, qty int) error {
		entry.Stock += qty
		return nil
	})
}

func (r *Repository) mutate(ctx context.Context, items []event.Item, idemKey string, outcome []byte, apply func(*domain.Item, int) error) error {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.ItemID)
	}

	txn := func(tx *redis.Tx) error {
		entries := make(map[string]*domain.Item, len(items))
		order := make([]string, 0, len(items))
		for _, it := range items {
			entry, ok := entries[it.ItemID]
			if !ok {
				data, err := tx.Get(ctx, it.ItemID).Bytes()
				if errors.Is(err, redis.Nil) {
					return fmt.Errorf("%w: %s", domain.ErrNotFound, it.ItemID)
				}
				if err != nil {
					return err
				}
				entry = &domain.Item{}
				if err := codec.Decode(data, entry); err != nil {
					return err
				}
				entries[it.ItemID] = entry
				order = append(order, it.ItemID)
			}
			if err := apply(entry, it.Quantity); err != nil {
				return fmt.Errorf("%w: %s", err, it.ItemID)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range order {
				data, err := codec.Encode(entries[id])
				if err != nil {
					return err
				}
				pipe.Set(ctx, id, data, 0)
			}
			if idemKey != "" {
				pipe.Set(ctx, idemKey, outcome, r.idemTTL)
			}
			return nil
		})
		return err
	}

	return r.watchLoop(ctx, txn, keys...)
}

// watchLoop drives the optimistic transaction: WATCH conflicts retry
// immediately, transient store errors retry after the policy backoff, and
// both share the policy's attempt bound so a contended key cannot livelock.
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
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInsufficientStock):
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
