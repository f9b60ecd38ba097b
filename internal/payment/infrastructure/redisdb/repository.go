// Package redisdb implements the payment store on Redis with the same
// WATCH/MULTI/EXEC discipline as the stock store: the user key is watched
// before the read, and the credit update commits atomically with the
// idempotency record.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storefront/internal/payment/domain"
	"storefront/pkg/codec"
	"storefront/pkg/retry"
)

// ErrUnavailable is returned once the bounded retries around the store are
// exhausted; its message is the wire marker on *_ERROR outcomes.
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

// CreateUser stores a fresh user with zero credit and returns its id.
func (r *Repository) CreateUser(ctx context.Context) (string, error) {
	id := uuid.NewString()
	data, err := codec.Encode(domain.User{Credit: 0})
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

// BatchInit seeds users "0".."n-1" with the given starting credit via MSET.
func (r *Repository) BatchInit(ctx context.Context, n, credit int) error {
	pairs := make([]any, 0, 2*n)
	for i := 0; i < n; i++ {
		data, err := codec.Encode(domain.User{Credit: credit})
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

// GetUser loads one user.
func (r *Repository) GetUser(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	err := r.policy.Do(ctx, func() error {
		data, err := r.rdb.Get(ctx, id).Bytes()
		if err != nil {
			return err
		}
		return codec.Decode(data, &user)
	})
	if errors.Is(err, redis.Nil) {
		return domain.User{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return user, nil
}

// Pay withdraws amount from the user, rejecting a balance that would go
// negative. The outcome produced by outcome(newCredit) is recorded under
// idemKey in the same transaction as the credit update.
func (r *Repository) Pay(ctx context.Context, userID string, amount int, idemKey string, outcome domain.OutcomeFunc) (int, error) {
	return r.adjust(ctx, userID, -amount, idemKey, outcome)
}

// Refund returns amount to the user unconditionally.
func (r *Repository) Refund(ctx context.Context, userID string, amount int, idemKey string, outcome domain.OutcomeFunc) (int, error) {
	return r.adjust(ctx, userID, amount, idemKey, outcome)
}

func (r *Repository) adjust(ctx context.Context, userID string, delta int, idemKey string, outcome domain.OutcomeFunc) (int, error) {
	var credit int

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, userID).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, userID)
		}
		if err != nil {
			return err
		}
		var user domain.User
		if err := codec.Decode(data, &user); err != nil {
			return err
		}

		user.Credit += delta
		if user.Credit < 0 {
			return domain.ErrInsufficientCredit
		}
		credit = user.Credit

		updated, err := codec.Encode(user)
		if err != nil {
			return err
		}
		var record []byte
		if outcome != nil {
			if record, err = outcome(user.Credit); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userID, updated, 0)
			if idemKey != "" && record != nil {
				pipe.Set(ctx, idemKey, record, r.idemTTL)
			}
			return nil
		})
		return err
	}

	if err := r.watchLoop(ctx, txn, userID); err != nil {
		return 0, err
	}
	return credit, nil
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
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInsufficientCredit):
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
