// Package idempotency records the outcome a participant produced for a
// command, keyed by "<event_type>:<correlation_id>", so a redelivered
// command republishes the recorded outcome instead of re-executing the
// side effect.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/pkg/codec"
)

const DefaultTTL = time.Hour

type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// TTL is the expiry applied to records written through this store.
func (s *Store) TTL() time.Duration { return s.ttl }

// Lookup returns the recorded outcome for key, if any.
func (s *Store) Lookup(ctx context.Context, key string) (event.Event, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return event.Event{}, false, nil
	}
	if err != nil {
		return event.Event{}, false, err
	}
	var ev event.Event
	if err := codec.Decode(data, &ev); err != nil {
		return event.Event{}, false, err
	}
	return ev, true, nil
}

// Record stores the outcome under key with the configured TTL. Participants
// use this for outcomes decided outside a store transaction (predicate
// failures, retry exhaustion); outcomes tied to a domain write go through
// the repository's MULTI instead.
func (s *Store) Record(ctx context.Context, key string, ev event.Event) error {
	data, err := codec.Encode(ev)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, data, s.ttl).Err()
}
