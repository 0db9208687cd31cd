package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/kafka"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/observability"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/redis"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "order-service"

	disputeWindow      = 7 * 24 * time.Hour
	requestKeyTTL      = 24 * time.Hour
	depositKeyTTL      = 7 * 24 * time.Hour
	orderCountsTTL     = 5 * time.Minute
	requestPending     = "pending"
	defaultOrdersTopic = "orders"

	// maxTierDuration caps a tier's delivery time at 100 years of minutes,
	// well inside what time.Duration can hold. Kept in sync with schema.sql.
	maxTierDuration = 100 * 365 * 24 * 60
)

type OrderService interface {
	PlaceOrder(ctx context.Context, buyerID, pricingTierID int64, requestID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actorID int64) (*models.Order, error)
	SettleOrder(ctx context.Context, orderID uuid.UUID) (Settlement, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetOrderEscrow(ctx context.Context, orderID uuid.UUID) (*models.EscrowAccount, error)
	GetOrdersByUser(ctx context.Context, userID int64, status *models.OrderStatus) ([]models.Order, error)
	GetOrdersByStatus(ctx context.Context, userID int64) (map[models.OrderStatus]int, error)
	Deposit(ctx context.Context, userID, amount int64, reference string) (*models.Transaction, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactionHistory(ctx context.Context, userID int64) ([]models.Transaction, error)
}

type orderService struct {
	store       repository.Store
	escrow      *EscrowEngine
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	ordersTopic string
	now         func() time.Time
}

// NewOrderService wires the façade. redisClient and producer may be nil,
// which disables idempotency keys, caching and event publishing.
func NewOrderService(
	store repository.Store,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	ordersTopic string,
) *orderService {
	if ordersTopic == "" {
		ordersTopic = defaultOrdersTopic
	}
	return &orderService{
		store:       store,
		escrow:      NewEscrowEngine(),
		redisClient: redisClient,
		producer:    producer,
		ordersTopic: ordersTopic,
		now:         time.Now,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *orderService) PlaceOrder(ctx context.Context, buyerID, pricingTierID int64, requestID string) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "PlaceOrder",
		attribute.Int64("buyer_id", buyerID),
		attribute.Int64("pricing_tier_id", pricingTierID),
	)
	defer func() { endSpan(span, err) }()
	logger := observability.WithContext(ctx, "method", "PlaceOrder", "buyer_id", buyerID, "pricing_tier_id", pricingTierID)

	if requestID != "" && s.redisClient != nil {
		requestKey := fmt.Sprintf("order_request:%d:%s", buyerID, requestID)
		replayed, reserveErr := s.reserveRequest(ctx, requestKey)
		if reserveErr != nil || replayed != nil {
			return replayed, reserveErr
		}
		defer func() {
			if err != nil {
				if delErr := s.redisClient.Del(context.WithoutCancel(ctx), requestKey); delErr != nil {
					logger.Error("failed to clear request key", "request_id", requestID, "error", delErr)
				}
				return
			}
			if setErr := s.redisClient.Set(context.WithoutCancel(ctx), requestKey, order.ID.String(), requestKeyTTL); setErr != nil {
				logger.Error("failed to store request result", "request_id", requestID, "order_id", order.ID, "error", setErr)
			}
		}()
	}

	var price int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		buyer, err := repos.Users().GetForUpdate(ctx, buyerID)
		if err != nil {
			return err
		}

		tier, err := repos.Catalog().GetPricingTier(ctx, pricingTierID)
		if err != nil {
			return err
		}
		if tier.Duration < 0 || tier.Duration > maxTierDuration {
			return fmt.Errorf("pricing tier %d duration %d minutes: %w", tier.ID, tier.Duration, pkgerrors.ErrInvalidInput)
		}
		sellerID := tier.Service.SellerID
		if sellerID == buyerID {
			return pkgerrors.ErrSelfOrder
		}
		if _, err := repos.Users().GetByID(ctx, sellerID); err != nil {
			return err
		}

		if buyer.Balance < tier.Price {
			return fmt.Errorf("user %d: %w (balance: %d, needed: %d)", buyerID, pkgerrors.ErrInsufficientFunds, buyer.Balance, tier.Price)
		}

		chat, err := repos.Chats().FindOrCreateOrderChat(ctx, buyerID, sellerID)
		if err != nil {
			return err
		}

		placed := &models.Order{
			ID:            uuid.New(),
			BuyerID:       buyerID,
			SellerID:      sellerID,
			PricingTierID: tier.ID,
			ChatID:        chat.ID,
			Status:        models.OrderPending,
		}
		if err := repos.Orders().Create(ctx, placed); err != nil {
			return err
		}

		releaseDueDate := s.now().Add(time.Duration(tier.Duration) * time.Minute)
		if _, err := s.escrow.Open(ctx, repos, placed, tier.Price, releaseDueDate, releaseDueDate.Add(disputeWindow)); err != nil {
			return err
		}

		order = placed
		price = tier.Price
		return nil
	})
	if err != nil {
		logger.Error("failed to place order", "error", err)
		return nil, err
	}

	observability.OrdersPlaced.Inc()
	s.invalidateCounts(ctx, order.BuyerID, order.SellerID)
	s.publish(ctx, models.OrderEvent{
		EventType:  models.EventOrderPlaced,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Status:     order.Status,
		Amount:     price,
		OccurredAt: s.now(),
	})

	logger.Info("order placed", "order_id", order.ID, "seller_id", order.SellerID, "chat_id", order.ChatID, "amount", price)
	return order, nil
}

// reserveRequest claims requestKey. It returns the stored order when the
// request already succeeded once.
func (s *orderService) reserveRequest(ctx context.Context, requestKey string) (*models.Order, error) {
	ok, err := s.redisClient.SetNX(ctx, requestKey, requestPending, requestKeyTTL)
	if err != nil {
		slog.Error("failed to set request key", "method", "PlaceOrder", "key", requestKey, "error", err)
		return nil, fmt.Errorf("failed to set request key: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := s.redisClient.Get(ctx, requestKey)
	if err != nil || val == requestPending {
		slog.Warn("request already in progress", "method", "PlaceOrder", "key", requestKey)
		return nil, pkgerrors.ErrRequestInProgress
	}
	orderID, err := uuid.Parse(val)
	if err != nil {
		slog.Error("corrupt request key", "method", "PlaceOrder", "key", requestKey, "value", val)
		return nil, pkgerrors.ErrRequestInProgress
	}

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	slog.Info("request replayed", "method", "PlaceOrder", "key", requestKey, "order_id", orderID)
	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, actorID int64) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "UpdateOrderStatus",
		attribute.String("order_id", orderID.String()),
		attribute.String("status", string(status)),
		attribute.Int64("actor_id", actorID),
	)
	defer func() { endSpan(span, err) }()
	logger := observability.WithContext(ctx, "method", "UpdateOrderStatus", "order_id", orderID, "actor_id", actorID, "status", status)

	if !status.Valid() {
		logger.Warn("unknown order status")
		return nil, pkgerrors.ErrInvalidOrderStatus
	}

	var (
		previous   models.OrderStatus
		settlement Settlement
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		role, err := ResolveRole(current, actorID)
		if err != nil {
			return err
		}
		effect, err := Transition(current.Status, status, role)
		if err != nil {
			return fmt.Errorf("%s -> %s as %s: %w", current.Status, status, role, err)
		}

		updated, err := repos.Orders().UpdateStatus(ctx, orderID, status)
		if err != nil {
			return err
		}

		switch effect {
		case EffectRelease:
			settlement, err = s.escrow.Release(ctx, repos, updated)
		case EffectRefund:
			settlement, err = s.escrow.Refund(ctx, repos, updated)
		}
		if err != nil {
			return err
		}

		previous = current.Status
		order = updated
		return nil
	})
	if err != nil {
		logger.Error("failed to update order status", "error", err)
		return nil, err
	}

	observability.OrderTransitions.WithLabelValues(string(previous), string(status)).Inc()
	s.invalidateCounts(ctx, order.BuyerID, order.SellerID)
	s.publish(ctx, models.OrderEvent{
		EventType:      models.EventOrderStatusChanged,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Status:         order.Status,
		PreviousStatus: previous,
		OccurredAt:     s.now(),
	})
	s.publishSettlement(ctx, order, settlement)

	logger.Info("order status updated", "previous_status", previous)
	return order, nil
}

// SettleOrder re-runs the escrow side effect of a terminal order. It is
// safe to call repeatedly.
func (s *orderService) SettleOrder(ctx context.Context, orderID uuid.UUID) (settlement Settlement, err error) {
	ctx, span := startSpan(ctx, "SettleOrder", attribute.String("order_id", orderID.String()))
	defer func() { endSpan(span, err) }()
	logger := observability.WithContext(ctx, "method", "SettleOrder", "order_id", orderID)

	var order *models.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		switch current.Status {
		case models.OrderCompleted:
			settlement, err = s.escrow.Release(ctx, repos, current)
		case models.OrderCanceled:
			settlement, err = s.escrow.Refund(ctx, repos, current)
		default:
			err = fmt.Errorf("order %s is %s: %w", orderID, current.Status, pkgerrors.ErrInvalidOrderState)
		}
		order = current
		return err
	})
	if err != nil {
		logger.Error("failed to settle order", "error", err)
		return Settlement{}, err
	}

	s.publishSettlement(ctx, order, settlement)
	logger.Info("order settled", "outcome", settlement.Outcome, "amount", settlement.Amount)
	return settlement, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "GetOrder", attribute.String("order_id", orderID.String()))
	defer func() { endSpan(span, err) }()

	return s.store.Orders().GetByID(ctx, orderID)
}

func (s *orderService) GetOrderEscrow(ctx context.Context, orderID uuid.UUID) (account *models.EscrowAccount, err error) {
	ctx, span := startSpan(ctx, "GetOrderEscrow", attribute.String("order_id", orderID.String()))
	defer func() { endSpan(span, err) }()

	return s.store.Escrows().GetByOrderID(ctx, orderID)
}

func (s *orderService) GetOrdersByUser(ctx context.Context, userID int64, status *models.OrderStatus) (orders []models.Order, err error) {
	ctx, span := startSpan(ctx, "GetOrdersByUser", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	if status != nil && !status.Valid() {
		return nil, pkgerrors.ErrInvalidOrderStatus
	}
	return s.store.Orders().ListByUser(ctx, userID, status)
}

func orderCountsGenKey(userID int64) string {
	return fmt.Sprintf("user:%d:order_counts_gen", userID)
}

// orderCountsKey is scoped to a generation so a snapshot read before a
// write commits can never be served after it.
func orderCountsKey(userID int64, gen string) string {
	return fmt.Sprintf("user:%d:order_counts:%s", userID, gen)
}

// GetOrdersByStatus returns the number of the user's orders in each status,
// zero counts included.
func (s *orderService) GetOrdersByStatus(ctx context.Context, userID int64) (counts map[models.OrderStatus]int, err error) {
	ctx, span := startSpan(ctx, "GetOrdersByStatus", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	var key string
	if s.redisClient != nil {
		gen, genErr := s.redisClient.Get(ctx, orderCountsGenKey(userID))
		switch {
		case genErr == nil:
			key = orderCountsKey(userID, gen)
		case stderrors.Is(genErr, redis.ErrKeyNotFound):
			key = orderCountsKey(userID, "0")
		default:
			slog.Error("failed to get order counts generation", "method", "GetOrdersByStatus", "user_id", userID, "error", genErr)
		}
	}

	if key != "" {
		cached, err := s.redisClient.Get(ctx, key)
		if err == nil {
			decodeErr := json.Unmarshal([]byte(cached), &counts)
			if decodeErr == nil {
				slog.Info("order counts fetched from Redis", "method", "GetOrdersByStatus", "user_id", userID)
				return counts, nil
			}
			slog.Error("failed to unmarshal order counts", "method", "GetOrdersByStatus", "user_id", userID, "error", decodeErr)
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to get order counts from Redis", "method", "GetOrdersByStatus", "user_id", userID, "error", err)
		}
	}

	counts, err = s.store.Orders().CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, status := range models.OrderStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}

	if key != "" {
		if payload, err := json.Marshal(counts); err == nil {
			if err := s.redisClient.Set(ctx, key, string(payload), orderCountsTTL); err != nil {
				slog.Error("failed to cache order counts", "method", "GetOrdersByStatus", "user_id", userID, "error", err)
			}
		}
	}
	return counts, nil
}

// Deposit credits a confirmed top-up. A non-empty reference is processed
// at most once.
func (s *orderService) Deposit(ctx context.Context, userID, amount int64, reference string) (tx *models.Transaction, err error) {
	ctx, span := startSpan(ctx, "Deposit",
		attribute.Int64("user_id", userID),
		attribute.Int64("amount", amount),
	)
	defer func() { endSpan(span, err) }()
	logger := observability.WithContext(ctx, "method", "Deposit", "user_id", userID, "amount", amount, "reference", reference)

	if amount <= 0 {
		logger.Warn("deposit amount must be positive")
		return nil, pkgerrors.ErrInvalidAmount
	}

	if reference != "" && s.redisClient != nil {
		depositKey := fmt.Sprintf("deposit:%s", reference)
		ok, setErr := s.redisClient.SetNX(ctx, depositKey, userID, depositKeyTTL)
		if setErr != nil {
			logger.Error("failed to set deposit key", "error", setErr)
			return nil, fmt.Errorf("failed to set deposit key: %w", setErr)
		}
		if !ok {
			logger.Warn("deposit already processed")
			return nil, pkgerrors.ErrDuplicateDeposit
		}
		defer func() {
			if err != nil && !stderrors.Is(err, pkgerrors.ErrDuplicateDeposit) {
				if delErr := s.redisClient.Del(context.WithoutCancel(ctx), depositKey); delErr != nil {
					logger.Error("failed to clear deposit key", "error", delErr)
				}
			}
		}()
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		tx, err = s.escrow.ledger.Credit(ctx, repos, userID, amount, models.TypeDeposit, LedgerEntry{Reference: reference})
		return err
	})
	if err != nil {
		logger.Error("failed to record deposit", "error", err)
		return nil, err
	}

	logger.Info("deposit recorded", "transaction_id", tx.ID)
	return tx, nil
}

func (s *orderService) GetBalance(ctx context.Context, userID int64) (balance int64, err error) {
	ctx, span := startSpan(ctx, "GetBalance", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

func (s *orderService) GetTransactionHistory(ctx context.Context, userID int64) (txs []models.Transaction, err error) {
	ctx, span := startSpan(ctx, "GetTransactionHistory", attribute.Int64("user_id", userID))
	defer func() { endSpan(span, err) }()

	txs, err = s.store.Transactions().ListByUser(ctx, userID)
	if err != nil {
		slog.Error("failed to get transaction history", "method", "GetTransactionHistory", "user_id", userID, "error", err)
		return nil, err
	}
	return txs, nil
}

// invalidateCounts moves each user to a new counts generation. Snapshots
// cached under the old one expire on their own.
func (s *orderService) invalidateCounts(ctx context.Context, userIDs ...int64) {
	if s.redisClient == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range userIDs {
		if _, err := s.redisClient.Incr(ctx, orderCountsGenKey(id)); err != nil {
			slog.Error("failed to invalidate order counts", "user_id", id, "error", err)
		}
	}
}

func (s *orderService) publishSettlement(ctx context.Context, order *models.Order, settlement Settlement) {
	if settlement.Outcome != SettlementClosed {
		return
	}
	eventType := models.EventEscrowReleased
	if order.Status == models.OrderCanceled {
		eventType = models.EventEscrowRefunded
	}
	s.publish(ctx, models.OrderEvent{
		EventType:  eventType,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Status:     order.Status,
		Amount:     settlement.Amount,
		OccurredAt: s.now(),
	})
}

// publish runs after commit; a failed send is logged and never undoes the
// ledger change.
func (s *orderService) publish(ctx context.Context, event models.OrderEvent) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal order event", "event_type", event.EventType, "order_id", event.OrderID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, s.ordersTopic, event.OrderID.String(), payload); err != nil {
		slog.Error("failed to publish order event", "event_type", event.EventType, "order_id", event.OrderID, "error", err)
	}
}
