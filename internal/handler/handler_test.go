package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	service "github.com/honeynil/EscrowServiceTochka/internal/services"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) PlaceOrder(ctx context.Context, buyerID, pricingTierID int64, requestID string) (*models.Order, error) {
	args := m.Called(ctx, buyerID, pricingTierID, requestID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actorID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID, status, actorID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) SettleOrder(ctx context.Context, orderID uuid.UUID) (service.Settlement, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(service.Settlement), args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) GetOrderEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowAccount, error) {
	args := m.Called(ctx, orderID)
	account, _ := args.Get(0).(*models.EscrowAccount)
	return account, args.Error(1)
}

func (m *mockOrderService) GetOrdersByUser(ctx context.Context, userID int64, status *models.OrderStatus) ([]models.Order, error) {
	args := m.Called(ctx, userID, status)
	orders, _ := args.Get(0).([]models.Order)
	return orders, args.Error(1)
}

func (m *mockOrderService) GetOrdersByStatus(ctx context.Context, userID int64) (map[models.OrderStatus]int, error) {
	args := m.Called(ctx, userID)
	counts, _ := args.Get(0).(map[models.OrderStatus]int)
	return counts, args.Error(1)
}

func (m *mockOrderService) Deposit(ctx context.Context, userID, amount int64, reference string) (*models.Transaction, error) {
	args := m.Called(ctx, userID, amount, reference)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *mockOrderService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOrderService) GetTransactionHistory(ctx context.Context, userID int64) ([]models.Transaction, error) {
	args := m.Called(ctx, userID)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

const (
	buyerID  int64 = 1
	sellerID int64 = 2
)

// serve routes req as the given user, skipping token verification.
func serve(h *Handler, userID int64, req *http.Request) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.RegisterProtectedRoutes(r)
	if userID != 0 {
		req = req.WithContext(auth.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PlaceOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		order := &models.Order{ID: uuid.New(), BuyerID: buyerID, SellerID: sellerID, Status: models.OrderPending}
		svc.On("PlaceOrder", mock.Anything, buyerID, int64(7), "req-1").Return(order, nil)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"pricing_tier_id":7,"request_id":"req-1"}`))
		rec := serve(h, buyerID, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var body struct {
			ID                 uuid.UUID            `json:"id"`
			Status             models.OrderStatus   `json:"status"`
			AllowedTransitions []models.OrderStatus `json:"allowed_transitions"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, order.ID, body.ID)
		assert.Equal(t, models.OrderPending, body.Status)
		assert.Equal(t, []models.OrderStatus{models.OrderCanceled}, body.AllowedTransitions)
		svc.AssertExpectations(t)
	})

	t.Run("IdempotencyKeyHeader", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		order := &models.Order{ID: uuid.New(), BuyerID: buyerID, SellerID: sellerID, Status: models.OrderPending}
		svc.On("PlaceOrder", mock.Anything, buyerID, int64(7), "hdr-1").Return(order, nil)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"pricing_tier_id":7}`))
		req.Header.Set("Idempotency-Key", "hdr-1")
		rec := serve(h, buyerID, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("BadBody", func(t *testing.T) {
		h := NewHandler(new(mockOrderService))

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		h := NewHandler(new(mockOrderService))

		rec := serve(h, 0, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"pricing_tier_id":7}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"InsufficientFunds", fmt.Errorf("user 1: %w", pkgerrors.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{"SelfOrder", pkgerrors.ErrSelfOrder, http.StatusUnprocessableEntity},
		{"TierNotFound", pkgerrors.ErrPricingTierNotFound, http.StatusNotFound},
		{"InProgress", pkgerrors.ErrRequestInProgress, http.StatusConflict},
		{"EscrowInvariant", &pkgerrors.EscrowError{Op: "open", Err: pkgerrors.ErrInvalidEscrowBalance}, http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockOrderService)
			h := NewHandler(svc)
			svc.On("PlaceOrder", mock.Anything, buyerID, int64(7), "").Return(nil, tc.err)

			rec := serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"pricing_tier_id":7}`)))
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	t.Run("InternalErrorIsOpaque", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("PlaceOrder", mock.Anything, buyerID, int64(7), "").Return(nil, fmt.Errorf("pq: connection reset"))

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"pricing_tier_id":7}`)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	})
}

func TestHandler_UpdateOrderStatus(t *testing.T) {
	orderID := uuid.New()
	path := "/orders/" + orderID.String() + "/status"

	t.Run("Success", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		updated := &models.Order{ID: orderID, BuyerID: buyerID, SellerID: sellerID, Status: models.OrderInProgress}
		svc.On("UpdateOrderStatus", mock.Anything, orderID, models.OrderInProgress, sellerID).Return(updated, nil)

		rec := serve(h, sellerID, httptest.NewRequest(http.MethodPatch, path, strings.NewReader(`{"status":"IN_PROGRESS"}`)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"allowed_transitions":["REVIEW"]`)
		svc.AssertExpectations(t)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"Illegal", pkgerrors.ErrIllegalTransition, http.StatusUnprocessableEntity},
		{"NotPermitted", pkgerrors.ErrTransitionNotPermitted, http.StatusForbidden},
		{"NotParticipant", pkgerrors.ErrNotOrderParticipant, http.StatusForbidden},
		{"UnknownStatus", pkgerrors.ErrInvalidOrderStatus, http.StatusBadRequest},
		{"NotFound", pkgerrors.ErrOrderNotFound, http.StatusNotFound},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(mockOrderService)
			h := NewHandler(svc)
			svc.On("UpdateOrderStatus", mock.Anything, orderID, models.OrderCompleted, buyerID).Return(nil, tc.err)

			rec := serve(h, buyerID, httptest.NewRequest(http.MethodPatch, path, strings.NewReader(`{"status":"COMPLETED"}`)))
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	t.Run("InvalidOrderID", func(t *testing.T) {
		h := NewHandler(new(mockOrderService))

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodPatch, "/orders/not-a-uuid/status", strings.NewReader(`{"status":"COMPLETED"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_GetOrder(t *testing.T) {
	orderID := uuid.New()
	order := &models.Order{ID: orderID, BuyerID: buyerID, SellerID: sellerID, Status: models.OrderReview}

	t.Run("Participant", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetOrder", mock.Anything, orderID).Return(order, nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"allowed_transitions":["IN_PROGRESS","COMPLETED"]`)
	})

	t.Run("Stranger", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetOrder", mock.Anything, orderID).Return(order, nil)

		rec := serve(h, 99, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Escrow", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetOrder", mock.Anything, orderID).Return(order, nil)
		svc.On("GetOrderEscrow", mock.Anything, orderID).Return(&models.EscrowAccount{ID: uuid.New(), OrderID: orderID, Balance: 750, Status: models.EscrowHeld}, nil)

		rec := serve(h, sellerID, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String()+"/escrow", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var account models.EscrowAccount
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
		assert.Equal(t, int64(750), account.Balance)
		assert.Equal(t, models.EscrowHeld, account.Status)
	})

	t.Run("Settle", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		completed := &models.Order{ID: orderID, BuyerID: buyerID, SellerID: sellerID, Status: models.OrderCompleted}
		svc.On("GetOrder", mock.Anything, orderID).Return(completed, nil)
		svc.On("SettleOrder", mock.Anything, orderID).Return(service.Settlement{Outcome: service.SettlementAlreadyClosed}, nil)

		rec := serve(h, sellerID, httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/settle", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"outcome":"already_closed"`)
	})
}

func TestHandler_Listings(t *testing.T) {
	t.Run("ListOrdersWithFilter", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		review := models.OrderReview
		svc.On("GetOrdersByUser", mock.Anything, buyerID, &review).Return([]models.Order{{ID: uuid.New(), Status: review}}, nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodGet, "/orders?status=REVIEW", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var orders []models.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
		assert.Len(t, orders, 1)
	})

	t.Run("ListOrdersUnfiltered", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetOrdersByUser", mock.Anything, buyerID, (*models.OrderStatus)(nil)).Return([]models.Order{}, nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("Stats", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetOrdersByStatus", mock.Anything, sellerID).Return(map[models.OrderStatus]int{models.OrderPending: 2}, nil)

		rec := serve(h, sellerID, httptest.NewRequest(http.MethodGet, "/orders/stats", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"PENDING":2}`, rec.Body.String())
	})
}

func TestHandler_Balance(t *testing.T) {
	t.Run("GetBalance", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetBalance", mock.Anything, buyerID).Return(int64(250), nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodGet, "/balance", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"balance":250}`, rec.Body.String())
	})

	t.Run("Deposit", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("Deposit", mock.Anything, buyerID, int64(500), "pay-1").
			Return(&models.Transaction{ID: 10, Type: models.TypeDeposit, Amount: 500, UserID: buyerID, Status: models.StatusCompleted}, nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/balance/deposit", strings.NewReader(`{"amount":500,"reference":"pay-1"}`)))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"DEPOSIT"`)
	})

	t.Run("DuplicateDeposit", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("Deposit", mock.Anything, buyerID, int64(500), "pay-1").Return(nil, pkgerrors.ErrDuplicateDeposit)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodPost, "/balance/deposit", strings.NewReader(`{"amount":500,"reference":"pay-1"}`)))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("History", func(t *testing.T) {
		svc := new(mockOrderService)
		h := NewHandler(svc)
		svc.On("GetTransactionHistory", mock.Anything, buyerID).Return([]models.Transaction{{ID: 1, Type: models.TypeEscrowHold, Amount: 750}}, nil)

		rec := serve(h, buyerID, httptest.NewRequest(http.MethodGet, "/history", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"ESCROW_HOLD"`)
	})
}
