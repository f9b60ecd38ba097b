package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/order/application"
	"storefront/internal/order/domain"
	"storefront/internal/order/infrastructure/redisdb"
	"storefront/pkg/codec"
	"storefront/pkg/idempotency"
	"storefront/pkg/retry"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, topic string, ev event.Event) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := slog.New(slog.DiscardHandler)
	repo := redisdb.NewRepository(log, rdb, retry.Policy{Attempts: 1, Backoff: time.Millisecond}, time.Hour)
	idem := idempotency.NewStore(rdb, time.Hour)
	svc := application.NewService(log, repo, idem, noopPublisher{}, 50*time.Millisecond, 50*time.Millisecond)
	return NewHandler(log, svc), mr
}

func seedOrder(t *testing.T, mr *miniredis.Miniredis, id string, o domain.Order) {
	t.Helper()
	data, err := codec.Encode(o)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mr.Set(id, string(data)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCreateAndFindOrder(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	res, err := srv.Client().Post(srv.URL+"/create/u1", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("create status = %d", res.StatusCode)
	}
	var created struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	res2, err := srv.Client().Get(srv.URL + "/find/" + created.OrderID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("find status = %d", res2.StatusCode)
	}
	var found struct {
		Paid      bool   `json:"paid"`
		UserID    string `json:"user_id"`
		TotalCost int    `json:"total_cost"`
	}
	if err := json.NewDecoder(res2.Body).Decode(&found); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if found.Paid || found.UserID != "u1" || found.TotalCost != 0 {
		t.Fatalf("order = %+v", found)
	}
}

func TestCheckoutTimeoutMapsTo408(t *testing.T) {
	h, mr := newTestHandler(t)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", TotalCost: 10})
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	res, err := srv.Client().Post(srv.URL+"/checkout/o1", "", nil)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 408 {
		t.Fatalf("status = %d, want 408", res.StatusCode)
	}
}

func TestAddItemUnknownOrderMapsTo400(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	res, err := srv.Client().Post(srv.URL+"/addItem/ghost/i1/1", "", nil)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}
