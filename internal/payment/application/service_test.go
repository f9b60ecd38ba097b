package application

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/payment/domain"
	"storefront/internal/payment/infrastructure/redisdb"
	"storefront/pkg/codec"
	"storefront/pkg/idempotency"
	"storefront/pkg/retry"
)

type capturePublisher struct {
	events []event.Event
	topics []string
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, ev event.Event) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *capturePublisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := slog.New(slog.DiscardHandler)
	repo := redisdb.NewRepository(log, rdb, retry.Policy{Attempts: 3, Backoff: time.Millisecond}, time.Hour)
	idem := idempotency.NewStore(rdb, time.Hour)
	pub := &capturePublisher{}
	return NewService(log, repo, idem, pub), pub, mr, rdb
}

func seedUser(t *testing.T, mr *miniredis.Miniredis, id string, credit int) {
	t.Helper()
	data, err := codec.Encode(domain.User{Credit: credit})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := mr.Set(id, string(data)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func userCredit(t *testing.T, rdb *redis.Client, id string) int {
	t.Helper()
	data, err := rdb.Get(context.Background(), id).Bytes()
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	var u domain.User
	if err := codec.Decode(data, &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return u.Credit
}

func TestPayPublishesPaymentProcessedWithNewCredit(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t)
	seedUser(t, mr, "u1", 100)

	cmd := event.Event{Type: event.TypePay, CorrelationID: "corr-1", UserID: "u1", Amount: 10, OrderID: "o1"}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := userCredit(t, rdb, "u1"); got != 90 {
		t.Fatalf("credit = %d, want 90", got)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	out := pub.events[0]
	if out.Type != event.TypePaymentProcessed || out.Credit != 90 || out.OrderID != "o1" {
		t.Fatalf("outcome = %+v", out)
	}
	if pub.topics[0] != event.TopicPaymentResponses {
		t.Fatalf("topic = %s", pub.topics[0])
	}
}

func TestDuplicatePayAppliesOnce(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t)
	seedUser(t, mr, "u1", 100)

	// Scenario: the same Pay command delivered twice. Exactly one decrement;
	// both deliveries publish PaymentProcessed with the same credit.
	cmd := event.Event{Type: event.TypePay, CorrelationID: "corr-X", UserID: "u1", Amount: 10}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if got := userCredit(t, rdb, "u1"); got != 90 {
		t.Fatalf("credit = %d, want 90 (single decrement)", got)
	}
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	for i, ev := range pub.events {
		if ev.Type != event.TypePaymentProcessed || ev.Credit != 90 {
			t.Fatalf("delivery %d outcome = %+v, want PaymentProcessed credit 90", i, ev)
		}
	}
	if ttl := mr.TTL("Pay:corr-X"); ttl != time.Hour {
		t.Fatalf("idempotency TTL = %v, want 1h", ttl)
	}
}

func TestPayInsufficientFundsPublishesPaymentError(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t)
	seedUser(t, mr, "u1", 5)

	cmd := event.Event{Type: event.TypePay, CorrelationID: "corr-2", UserID: "u1", Amount: 10}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := userCredit(t, rdb, "u1"); got != 5 {
		t.Fatalf("credit = %d, want 5", got)
	}
	if len(pub.events) != 1 || pub.events[0].Type != event.TypePaymentError {
		t.Fatalf("published = %+v, want one PaymentError", pub.events)
	}
	if pub.events[0].Error != "INSUFFICIENT FUNDS" {
		t.Fatalf("error marker = %q", pub.events[0].Error)
	}
}

func TestPayUnknownUserPublishesPaymentError(t *testing.T) {
	svc, pub, _, _ := newTestService(t)

	cmd := event.Event{Type: event.TypePay, CorrelationID: "corr-3", UserID: "ghost", Amount: 10}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != event.TypePaymentError {
		t.Fatalf("published = %+v, want one PaymentError", pub.events)
	}
}

func TestRefundPublishesRefundProcessed(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t)
	seedUser(t, mr, "u1", 90)

	cmd := event.Event{Type: event.TypeRefund, CorrelationID: "corr-4", UserID: "u1", Amount: 10}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if got := userCredit(t, rdb, "u1"); got != 100 {
		t.Fatalf("credit = %d, want 100", got)
	}
	if len(pub.events) != 1 || pub.events[0].Type != event.TypeRefundProcessed || pub.events[0].Credit != 100 {
		t.Fatalf("published = %+v, want RefundProcessed credit 100", pub.events)
	}
}

func TestRefundUnknownUserPublishesRefundError(t *testing.T) {
	svc, pub, _, _ := newTestService(t)

	cmd := event.Event{Type: event.TypeRefund, CorrelationID: "corr-5", UserID: "ghost", Amount: 10}
	if err := svc.HandleEvent(context.Background(), cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Type != event.TypeRefundError {
		t.Fatalf("published = %+v, want one RefundError", pub.events)
	}
}
