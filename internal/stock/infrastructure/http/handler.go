package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/event"
	"storefront/internal/stock/application"
)

// Handler exposes the REST surface used for seeding and inspection; the
// saga path never goes through it.
type Handler struct {
	log    *slog.Logger
	repo   application.Repository
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, repo application.Repository) *Handler {
	return &Handler{
		log:    log,
		repo:   repo,
		tracer: otel.Tracer("stock-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/item/create/{price}", h.createItem)
	r.Post("/batch_init/{n}/{starting_stock}/{item_price}", h.batchInit)
	r.Get("/find/{item_id}", h.findItem)
	r.Post("/add/{item_id}/{amount}", h.addStock)
	r.Post("/subtract/{item_id}/{amount}", h.subtractStock)

	return r
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateItem")
	defer span.End()

	price, err := strconv.Atoi(chi.URLParam(r, "price"))
	if err != nil {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}
	id, err := h.repo.CreateItem(ctx, price)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"item_id": id})
}

func (h *Handler) batchInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BatchInitStock")
	defer span.End()

	n, err1 := strconv.Atoi(chi.URLParam(r, "n"))
	stock, err2 := strconv.Atoi(chi.URLParam(r, "starting_stock"))
	price, err3 := strconv.Atoi(chi.URLParam(r, "item_price"))
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}
	if err := h.repo.BatchInit(ctx, n, stock, price); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"msg": "Batch init for stock successful"})
}

func (h *Handler) findItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "FindItem")
	defer span.End()

	item, err := h.repo.GetItem(ctx, chi.URLParam(r, "item_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(item)
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddStock")
	defer span.End()

	h.mutate(ctx, w, r, h.repo.AddStock)
}

func (h *Handler) subtractStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SubtractStock")
	defer span.End()

	h.mutate(ctx, w, r, h.repo.SubtractStock)
}

type mutateFunc func(ctx context.Context, items []event.Item, idemKey string, outcome []byte) error

func (h *Handler) mutate(ctx context.Context, w http.ResponseWriter, r *http.Request, fn mutateFunc) {
	itemID := chi.URLParam(r, "item_id")
	amount, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	if err := fn(ctx, []event.Item{{ItemID: itemID, Quantity: amount}}, "", nil); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.repo.GetItem(ctx, itemID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "Item: %s stock updated to: %d", itemID, item.Stock)
}
