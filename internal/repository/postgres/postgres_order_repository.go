package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/observability"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const (
	orderTracer  = "order-repository"
	orderColumns = `id, buyer_id, seller_id, pricing_tier_id, chat_id, status, created_at, updated_at`
)

type PostgresOrderRepository struct {
	db DBTX
}

func NewPostgresOrderRepository(db DBTX) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.PricingTierID, &o.ChatID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) (err error) {
	if order == nil {
		return pkgerrors.ErrNilOrder
	}
	if !order.Status.Valid() {
		return pkgerrors.ErrInvalidOrderStatus
	}

	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "CreateOrder",
		attribute.String("order_id", order.ID.String()),
		attribute.Int64("buyer_id", order.BuyerID),
		attribute.Int64("seller_id", order.SellerID),
	)
	defer func() { done(err) }()

	query := `
		INSERT INTO orders (id, buyer_id, seller_id, pricing_tier_id, chat_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		order.ID,
		order.BuyerID,
		order.SellerID,
		order.PricingTierID,
		order.ChatID,
		order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			slog.Error("chat already has an order", "method", "CreateOrder", "order_id", order.ID, "chat_id", order.ChatID, "error", err)
			return fmt.Errorf("chat %s already has an order: %w", order.ChatID, err)
		}
		slog.Error("failed to create order", "method", "CreateOrder", "order_id", order.ID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}

	slog.Info("order created", "method", "CreateOrder", "order_id", order.ID, "buyer_id", order.BuyerID, "seller_id", order.SellerID)
	return nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (order *models.Order, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "GetOrderByID", attribute.String("order_id", id.String()))
	defer func() { done(err) }()

	return r.getOne(ctx, "GetByID", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PostgresOrderRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (order *models.Order, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "GetOrderForUpdate", attribute.String("order_id", id.String()))
	defer func() { done(err) }()

	return r.getOne(ctx, "GetForUpdate", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, method, query string, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("order not found", "method", method, "order_id", id)
		return nil, pkgerrors.ErrOrderNotFound
	}
	if err != nil {
		slog.Error("failed to get order", "method", method, "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (order *models.Order, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "UpdateOrderStatus",
		attribute.String("order_id", id.String()),
		attribute.String("status", string(status)),
	)
	defer func() { done(err) }()

	if !status.Valid() {
		err = pkgerrors.ErrInvalidOrderStatus
		return nil, err
	}

	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + orderColumns
	order, err = scanOrder(r.db.QueryRowContext(ctx, query, status, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrOrderNotFound
		slog.Warn("order not found", "method", "UpdateStatus", "order_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to update order status", "method", "UpdateStatus", "order_id", id, "status", status, "error", err)
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	slog.Info("order status updated", "method", "UpdateStatus", "order_id", id, "status", status)
	return order, nil
}

func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID int64, status *models.OrderStatus) (orders []models.Order, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "ListOrdersByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	var filter sql.NullString
	if status != nil {
		filter = sql.NullString{String: string(*status), Valid: true}
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE (buyer_id = $1 OR seller_id = $1)
		AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID, filter)
	if err != nil {
		slog.Error("failed to list orders", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders = []models.Order{}
	for rows.Next() {
		var order *models.Order
		order, err = scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	slog.Info("orders listed", "method", "ListByUser", "user_id", userID, "count", len(orders))
	return orders, nil
}

func (r *PostgresOrderRepository) CountByStatus(ctx context.Context, userID int64) (counts map[models.OrderStatus]int, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, orderTracer, "CountOrdersByStatus", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `SELECT status, COUNT(*) FROM orders WHERE buyer_id = $1 OR seller_id = $1 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to count orders", "method", "CountByStatus", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts = make(map[models.OrderStatus]int)
	for rows.Next() {
		var status models.OrderStatus
		var count int
		if err = rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[status] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order counts: %w", err)
	}
	return counts, nil
}
