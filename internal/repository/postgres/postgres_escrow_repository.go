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
	"go.opentelemetry.io/otel/attribute"
)

const (
	escrowTracer  = "escrow-repository"
	escrowColumns = `id, order_id, user_id, balance, status, release_due_date, dispute_deadline, created_at, updated_at`
)

type PostgresEscrowRepository struct {
	db DBTX
}

func NewPostgresEscrowRepository(db DBTX) *PostgresEscrowRepository {
	return &PostgresEscrowRepository{db: db}
}

func (r *PostgresEscrowRepository) Create(ctx context.Context, account *models.EscrowAccount) (err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, escrowTracer, "CreateEscrowAccount",
		attribute.String("escrow_id", account.ID.String()),
		attribute.String("order_id", account.OrderID.String()),
	)
	defer func() { done(err) }()

	query := `
		INSERT INTO escrow_accounts (id, order_id, user_id, balance, status, release_due_date, dispute_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		account.ID,
		account.OrderID,
		account.UserID,
		account.Balance,
		account.Status,
		account.ReleaseDueDate,
		account.DisputeDeadline,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		slog.Error("failed to create escrow account", "method", "Create", "order_id", account.OrderID, "error", err)
		return fmt.Errorf("failed to create escrow account: %w", err)
	}

	slog.Info("escrow account created", "method", "Create", "escrow_id", account.ID, "order_id", account.OrderID)
	return nil
}

func (r *PostgresEscrowRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (account *models.EscrowAccount, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, escrowTracer, "GetEscrowByOrderID", attribute.String("order_id", orderID.String()))
	defer func() { done(err) }()

	return r.getOne(ctx, "GetByOrderID", `SELECT `+escrowColumns+` FROM escrow_accounts WHERE order_id = $1`, orderID)
}

func (r *PostgresEscrowRepository) GetByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (account *models.EscrowAccount, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, escrowTracer, "GetEscrowByOrderIDForUpdate", attribute.String("order_id", orderID.String()))
	defer func() { done(err) }()

	return r.getOne(ctx, "GetByOrderIDForUpdate", `SELECT `+escrowColumns+` FROM escrow_accounts WHERE order_id = $1 FOR UPDATE`, orderID)
}

func (r *PostgresEscrowRepository) getOne(ctx context.Context, method, query string, orderID uuid.UUID) (*models.EscrowAccount, error) {
	var a models.EscrowAccount
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&a.ID,
		&a.OrderID,
		&a.UserID,
		&a.Balance,
		&a.Status,
		&a.ReleaseDueDate,
		&a.DisputeDeadline,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("escrow account not found", "method", method, "order_id", orderID)
		return nil, pkgerrors.ErrEscrowNotFound
	}
	if err != nil {
		slog.Error("failed to get escrow account", "method", method, "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to get escrow account: %w", err)
	}
	return &a, nil
}

func (r *PostgresEscrowRepository) AddBalance(ctx context.Context, id uuid.UUID, delta int64) (newBalance int64, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, escrowTracer, "AddEscrowBalance",
		attribute.String("escrow_id", id.String()),
		attribute.Int64("delta", delta),
	)
	defer func() { done(err) }()

	query := `
		UPDATE escrow_accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		AND status = 'HELD'
		AND (balance + $1) >= 0
		RETURNING balance
	`
	err = r.db.QueryRowContext(ctx, query, delta, id).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("held escrow account %s: %w", id, pkgerrors.ErrEscrowNotFound)
		slog.Error("escrow balance not changed", "method", "AddBalance", "escrow_id", id, "delta", delta, "error", err)
		return 0, err
	}
	if err != nil {
		slog.Error("failed to change escrow balance", "method", "AddBalance", "escrow_id", id, "delta", delta, "error", err)
		return 0, fmt.Errorf("failed to change escrow balance: %w", err)
	}
	return newBalance, nil
}

func (r *PostgresEscrowRepository) Close(ctx context.Context, id uuid.UUID, status models.EscrowStatus) (err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, escrowTracer, "CloseEscrowAccount",
		attribute.String("escrow_id", id.String()),
		attribute.String("status", string(status)),
	)
	defer func() { done(err) }()

	query := `UPDATE escrow_accounts SET status = $1, balance = 0, updated_at = NOW() WHERE id = $2 AND status = 'HELD'`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		slog.Error("failed to close escrow account", "method", "Close", "escrow_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to close escrow account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check closed escrow account: %w", err)
	}
	if affected == 0 {
		err = fmt.Errorf("escrow account %s is not held: %w", id, pkgerrors.ErrEscrowStateConflict)
		slog.Error("escrow account not closed", "method", "Close", "escrow_id", id, "status", status, "error", err)
		return err
	}

	slog.Info("escrow account closed", "method", "Close", "escrow_id", id, "status", status)
	return nil
}
