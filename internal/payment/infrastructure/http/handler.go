package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/payment/application"
)

// Handler exposes the REST surface used for seeding and inspection.
type Handler struct {
	log    *slog.Logger
	repo   application.Repository
	tracer trace.Tracer
}

func NewHandler(log *slog.Logger, repo application.Repository) *Handler {
	return &Handler{
		log:    log,
		repo:   repo,
		tracer: otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/create_user", h.createUser)
	r.Post("/batch_init/{n}/{starting_money}", h.batchInit)
	r.Get("/find_user/{user_id}", h.findUser)
	r.Post("/add_funds/{user_id}/{amount}", h.addFunds)
	r.Post("/pay/{user_id}/{amount}", h.pay)

	return r
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateUser")
	defer span.End()

	id, err := h.repo.CreateUser(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"user_id": id})
}

func (h *Handler) batchInit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BatchInitUsers")
	defer span.End()

	n, err1 := strconv.Atoi(chi.URLParam(r, "n"))
	money, err2 := strconv.Atoi(chi.URLParam(r, "starting_money"))
	if err1 != nil || err2 != nil {
		http.Error(w, "invalid parameters", http.StatusBadRequest)
		return
	}
	if err := h.repo.BatchInit(ctx, n, money); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"msg": "Batch init for users successful"})
}

func (h *Handler) findUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "FindUser")
	defer span.End()

	userID := chi.URLParam(r, "user_id")
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"user_id": userID, "credit": user.Credit})
}

func (h *Handler) addFunds(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddFunds")
	defer span.End()

	userID := chi.URLParam(r, "user_id")
	amount, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	credit, err := h.repo.Refund(ctx, userID, amount, "", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "User: %s credit updated to: %d", userID, credit)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Pay")
	defer span.End()

	userID := chi.URLParam(r, "user_id")
	amount, err := strconv.Atoi(chi.URLParam(r, "amount"))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	credit, err := h.repo.Pay(ctx, userID, amount, "", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "User: %s credit updated to: %d", userID, credit)
}
