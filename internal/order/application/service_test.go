package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storefront/internal/event"
	"storefront/internal/order/domain"
	"storefront/internal/order/infrastructure/redisdb"
	"storefront/pkg/codec"
	"storefront/pkg/idempotency"
	"storefront/pkg/retry"
)

// capturePublisher is safe for the bridge tests, where the test goroutine
// publishes while a responder goroutine polls for the command.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
	topics []string
}

func (p *capturePublisher) Publish(ctx context.Context, topic string, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) first() (event.Event, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return event.Event{}, "", false
	}
	return p.events[0], p.topics[0], true
}

func newTestService(t *testing.T, findTimeout time.Duration) (*Service, *capturePublisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := slog.New(slog.DiscardHandler)
	repo := redisdb.NewRepository(log, rdb, retry.Policy{Attempts: 2, Backoff: time.Millisecond}, time.Hour)
	idem := idempotency.NewStore(rdb, time.Hour)
	pub := &capturePublisher{}
	svc := NewService(log, repo, idem, pub, findTimeout, findTimeout)
	return svc, pub, mr, rdb
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

func readOrder(t *testing.T, rdb *redis.Client, id string) domain.Order {
	t.Helper()
	data, err := rdb.Get(context.Background(), id).Bytes()
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	var o domain.Order
	if err := codec.Decode(data, &o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return o
}

func TestHandleResponseItemFoundMergesIntoOrder(t *testing.T) {
	svc, _, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", Items: []event.Item{}})

	ev := event.Event{
		Type:          event.TypeItemFound,
		CorrelationID: "corr-1",
		OrderID:       "o1",
		ItemID:        "i1",
		Quantity:      2,
		Price:         5,
		Stock:         10,
	}
	if err := svc.HandleResponse(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	o := readOrder(t, rdb, "o1")
	if o.TotalCost != 10 || len(o.Items) != 1 || o.Items[0] != (event.Item{ItemID: "i1", Quantity: 2}) {
		t.Fatalf("order = %+v", o)
	}
}

func TestHandleResponseTwoAddItemsMergeQuantities(t *testing.T) {
	svc, _, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", Items: []event.Item{}})

	// Two concurrent addItem calls for the same item arrive under different
	// correlation ids: quantities merge, the total grows twice, nothing is
	// lost.
	for _, corr := range []string{"corr-a", "corr-b"} {
		ev := event.Event{
			Type:          event.TypeItemFound,
			CorrelationID: corr,
			OrderID:       "o1",
			ItemID:        "i1",
			Quantity:      1,
			Price:         5,
		}
		if err := svc.HandleResponse(context.Background(), ev); err != nil {
			t.Fatalf("handle %s: %v", corr, err)
		}
	}

	o := readOrder(t, rdb, "o1")
	if len(o.Items) != 1 || o.Items[0].Quantity != 2 {
		t.Fatalf("items = %+v, want merged quantity 2", o.Items)
	}
	if o.TotalCost != 10 {
		t.Fatalf("total = %d, want 10", o.TotalCost)
	}
}

func TestHandleResponseReplayLeavesOrderUnchanged(t *testing.T) {
	svc, _, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", Items: []event.Item{}})

	ev := event.Event{
		Type:          event.TypeItemFound,
		CorrelationID: "corr-2",
		OrderID:       "o1",
		ItemID:        "i1",
		Quantity:      3,
		Price:         4,
	}
	for i := 0; i < 3; i++ {
		if err := svc.HandleResponse(context.Background(), ev); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}

	o := readOrder(t, rdb, "o1")
	if o.TotalCost != 12 || o.Items[0].Quantity != 3 {
		t.Fatalf("replay mutated the order: %+v", o)
	}
}

func TestHandleResponseCheckoutSuccessFlipsPaid(t *testing.T) {
	svc, _, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{
		UserID:    "u1",
		Items:     []event.Item{{ItemID: "i1", Quantity: 2}},
		TotalCost: 10,
	})

	ev := event.Event{Type: event.TypeCheckoutSuccess, CorrelationID: "corr-3", OrderID: "o1"}
	if err := svc.HandleResponse(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if o := readOrder(t, rdb, "o1"); !o.Paid {
		t.Fatalf("paid not set: %+v", o)
	}
}

func TestHandleResponseCheckoutFailedLeavesOrderAlone(t *testing.T) {
	svc, _, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", TotalCost: 10})

	ev := event.Event{Type: event.TypeCheckoutFailed, CorrelationID: "corr-4", OrderID: "o1", Error: "INSUFFICIENT FUNDS"}
	if err := svc.HandleResponse(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if o := readOrder(t, rdb, "o1"); o.Paid {
		t.Fatalf("paid must stay false on CheckoutFailed")
	}
	// The outcome still reaches the stream for the blocked bridge.
	entries, _ := rdb.XRange(context.Background(), "order_response:corr-4", "-", "+").Result()
	if len(entries) != 1 {
		t.Fatalf("stream entries = %d, want 1", len(entries))
	}
}

func TestHandleResponseIgnoresSagaInternalEvents(t *testing.T) {
	svc, _, _, rdb := newTestService(t, time.Second)

	ev := event.Event{Type: event.TypeStockSubtracted, CorrelationID: "corr-5", OrderID: "o1"}
	if err := svc.HandleResponse(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n, _ := rdb.Exists(context.Background(), "StockSubtracted:corr-5").Result(); n != 0 {
		t.Fatalf("saga-internal events must not be recorded")
	}
}

func TestCheckoutPublishesCommandAndWaitsForOutcome(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{
		UserID:    "u1",
		Items:     []event.Item{{ItemID: "i1", Quantity: 2}},
		TotalCost: 10,
	})

	// Simulate the response consumer landing the terminal event once the
	// bridge has published its command.
	done := make(chan error, 1)
	go func() {
		cmd, _, err := awaitCommand(pub)
		if err != nil {
			done <- err
			return
		}
		success := event.Event{Type: event.TypeCheckoutSuccess, CorrelationID: cmd.CorrelationID, OrderID: "o1"}
		data, err := codec.Encode(success)
		if err != nil {
			done <- err
			return
		}
		done <- rdb.XAdd(context.Background(), &redis.XAddArgs{
			Stream: event.ResponseStream(cmd.CorrelationID),
			Values: map[string]any{"data": data},
		}).Err()
	}()

	if err := svc.Checkout(context.Background(), "o1"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("responder: %v", err)
	}

	cmd, topic, _ := pub.first()
	if cmd.Type != event.TypeCheckoutRequested || topic != event.TopicOrderOperations {
		t.Fatalf("command = %+v on %s", cmd, topic)
	}
	if cmd.UserID != "u1" || cmd.Amount != 10 || len(cmd.Items) != 1 {
		t.Fatalf("command payload = %+v", cmd)
	}
	if cmd.CorrelationID == "" {
		t.Fatalf("command must carry a fresh correlation id")
	}
}

func TestCheckoutTimesOut(t *testing.T) {
	svc, _, mr, _ := newTestService(t, 50*time.Millisecond)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1", TotalCost: 10})

	err := svc.Checkout(context.Background(), "o1")
	if !errors.Is(err, domain.ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
}

func TestAddItemRejectedWhenItemNotFound(t *testing.T) {
	svc, pub, mr, rdb := newTestService(t, time.Second)
	seedOrder(t, mr, "o1", domain.Order{UserID: "u1"})

	done := make(chan error, 1)
	go func() {
		cmd, _, err := awaitCommand(pub)
		if err != nil {
			done <- err
			return
		}
		notFound := event.Event{Type: event.TypeItemNotFound, CorrelationID: cmd.CorrelationID, ItemID: cmd.ItemID}
		data, err := codec.Encode(notFound)
		if err != nil {
			done <- err
			return
		}
		done <- rdb.XAdd(context.Background(), &redis.XAddArgs{
			Stream: event.ResponseStream(cmd.CorrelationID),
			Values: map[string]any{"data": data},
		}).Err()
	}()

	_, err := svc.AddItem(context.Background(), "o1", "ghost", 1)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("responder: %v", err)
	}
	cmd, topic, _ := pub.first()
	if cmd.Type != event.TypeFindItem || topic != event.TopicStockOperations {
		t.Fatalf("command = %+v on %s", cmd, topic)
	}
}

// awaitCommand polls the capture publisher until the bridge has published
// its command.
func awaitCommand(pub *capturePublisher) (event.Event, string, error) {
	deadline := time.Now().Add(time.Second)
	for {
		if cmd, topic, ok := pub.first(); ok {
			return cmd, topic, nil
		}
		if time.Now().After(deadline) {
			return event.Event{}, "", errors.New("no command published")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAddItemUnknownOrder(t *testing.T) {
	svc, _, _, _ := newTestService(t, time.Second)
	if _, err := svc.AddItem(context.Background(), "missing", "i1", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
