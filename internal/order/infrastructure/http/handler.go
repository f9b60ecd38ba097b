package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/order/application"
	"storefront/internal/order/domain"
)

// Handler exposes the order REST surface. addItem and checkout block on the
// request bridge; 200 means the saga committed, 400 a business rejection and
// 408 that no decision arrived within the timeout.
type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/create/{user_id}", h.createOrder)
	r.Post("/batch_init/{n}/{n_items}/{n_users}/{item_price}", h.batchInit)
	r.Get("/find/{order_id}", h.findOrder)
	r.Post("/addItem/{order_id}/{item_id}/{quantity}", h.addItem)
	r.Post("/checkout/{order_id}", h.checkout)

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	id, err := h.service.CreateOrder(ctx, chi.URLParam(r, "user_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"order_id": id})
}

func (h *Handler) batchInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BatchInitOrders")
	defer span.End()

	n, err1 := strconv.Atoi(chi.URLParam(r, "n"))
	nItems, err2 := strconv.Atoi(chi.URLParam(r, "n_items"))
	nUsers, err3 := strconv.Atoi(chi.URLParam(r, "n_users"))
	price, err4 := strconv.Atoi(chi.URLParam(r, "item_price"))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}
	if err := h.service.BatchInit(ctx, n, nItems, nUsers, price); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"msg": "Batch init for orders successful"})
}

func (h *Handler) findOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "FindOrder")
	defer span.End()

	orderID := chi.URLParam(r, "order_id")
	o, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"order_id":   orderID,
		"paid":       o.Paid,
		"items":      o.Items,
		"user_id":    o.UserID,
		"total_cost": o.TotalCost,
	})
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddItem")
	defer span.End()

	orderID := chi.URLParam(r, "order_id")
	itemID := chi.URLParam(r, "item_id")
	quantity, err := strconv.Atoi(chi.URLParam(r, "quantity"))
	if err != nil {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}

	total, err := h.service.AddItem(ctx, orderID, itemID, quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	fmt.Fprintf(w, "Item: %s added to: %s price updated to: %d", itemID, orderID, total)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()

	orderID := chi.URLParam(r, "order_id")
	if err := h.service.Checkout(ctx, orderID); err != nil {
		h.writeError(w, err)
		return
	}
	fmt.Fprint(w, "Checkout successful")
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrResponseTimeout):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
