package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	service "github.com/honeynil/EscrowServiceTochka/internal/services"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
)

type Handler struct {
	service service.OrderService
}

func NewHandler(s service.OrderService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeServiceError maps façade errors to HTTP statuses. Anything not
// listed, escrow invariant violations included, is a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrOrderNotFound),
		errors.Is(err, pkgerrors.ErrEscrowNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrPricingTierNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidOrderStatus):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrIllegalTransition),
		errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrSelfOrder),
		errors.Is(err, pkgerrors.ErrInvalidOrderState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pkgerrors.ErrNotOrderParticipant),
		errors.Is(err, pkgerrors.ErrTransitionNotPermitted):
		status = http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrRequestInProgress),
		errors.Is(err, pkgerrors.ErrDuplicateDeposit):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.writeError(w, status, errors.New("internal error"))
		return
	}
	h.writeError(w, status, err)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.PlaceOrder).Methods("POST")
	r.HandleFunc("/orders", h.ListOrders).Methods("GET")
	r.HandleFunc("/orders/stats", h.OrderStats).Methods("GET")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id}/status", h.UpdateOrderStatus).Methods("PATCH")
	r.HandleFunc("/orders/{id}/escrow", h.GetOrderEscrow).Methods("GET")
	r.HandleFunc("/orders/{id}/settle", h.SettleOrder).Methods("POST")
	r.HandleFunc("/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/balance/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/history", h.GetTransactionHistory).Methods("GET")
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
	}
	return userID, ok
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid order id"))
		return uuid.Nil, false
	}
	return id, true
}

// participantOrder loads the order and checks the actor takes part in it.
func (h *Handler) participantOrder(w http.ResponseWriter, r *http.Request) (*models.Order, service.Role, bool) {
	userID, ok := h.actor(w, r)
	if !ok {
		return nil, "", false
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return nil, "", false
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, "", false
	}
	role, err := service.ResolveRole(order, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return nil, "", false
	}
	return order, role, true
}

type orderResponse struct {
	*models.Order
	AllowedTransitions []models.OrderStatus `json:"allowed_transitions"`
}

func newOrderResponse(order *models.Order, role service.Role) orderResponse {
	next := service.AllowedTransitions(order.Status, role)
	if next == nil {
		next = []models.OrderStatus{}
	}
	return orderResponse{Order: order, AllowedTransitions: next}
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		PricingTierID int64  `json:"pricing_tier_id"`
		RequestID     string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PricingTierID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("pricing_tier_id is required"))
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	order, err := h.service.PlaceOrder(r.Context(), userID, req.PricingTierID, req.RequestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newOrderResponse(order, service.RoleBuyer))
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), id, req.Status, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	role, _ := service.ResolveRole(order, userID)
	h.writeJSON(w, http.StatusOK, newOrderResponse(order, role))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, role, ok := h.participantOrder(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderResponse(order, role))
}

func (h *Handler) GetOrderEscrow(w http.ResponseWriter, r *http.Request) {
	order, _, ok := h.participantOrder(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetOrderEscrow(r.Context(), order.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	order, _, ok := h.participantOrder(w, r)
	if !ok {
		return
	}

	settlement, err := h.service.SettleOrder(r.Context(), order.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"order_id":  order.ID,
		"escrow_id": settlement.EscrowID,
		"outcome":   settlement.Outcome,
		"amount":    settlement.Amount,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var filter *models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.OrderStatus(raw)
		filter = &status
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	counts, err := h.service.GetOrdersByStatus(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.service.Deposit(r.Context(), userID, req.Amount, req.Reference)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actor(w, r)
	if !ok {
		return
	}

	transactions, err := h.service.GetTransactionHistory(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}
