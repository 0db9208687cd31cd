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

const transactionTracer = "transaction-repository"

type PostgresTransactionRepository struct {
	db DBTX
}

func NewPostgresTransactionRepository(db DBTX) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Create appends tx to the log. It relies on the caller's transaction for
// atomicity with the balance change it records.
func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (txID int64, err error) {
	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}

	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type, "error", err)
		return 0, err
	}

	if tx.Status != models.StatusCompleted {
		err = pkgerrors.ErrInvalidTransactionStatus
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return 0, err
	}

	if tx.Amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount, "error", err)
		return 0, err
	}

	ctx, done := observability.TrackRepositoryCall(ctx, transactionTracer, "CreateTransaction",
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("type", string(tx.Type)),
	)
	defer func() { done(err) }()

	var reference sql.NullString
	if tx.Reference != "" {
		reference = sql.NullString{String: tx.Reference, Valid: true}
	}

	query := `
		INSERT INTO transactions (type, status, amount, user_id, order_id, escrow_account_id, release_due_date, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.UserID,
		tx.OrderID,
		tx.EscrowAccountID,
		tx.ReleaseDueDate,
		reference,
	).Scan(&txID, &tx.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if tx.Type == models.TypeDeposit && errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = pkgerrors.ErrDuplicateDeposit
			slog.Warn("deposit already recorded", "method", "Create", "user_id", tx.UserID, "reference", tx.Reference)
			return 0, err
		}
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "type", tx.Type, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	tx.ID = txID
	slog.Info("transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "type", tx.Type, "amount", tx.Amount)
	return txID, nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID int64) (txs []models.Transaction, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, transactionTracer, "ListTransactionsByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `
		SELECT id, type, status, amount, user_id, order_id, escrow_account_id, release_due_date, reference, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to get transaction history", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	txs = []models.Transaction{}
	for rows.Next() {
		var (
			tx        models.Transaction
			orderID   uuid.NullUUID
			escrowID  uuid.NullUUID
			dueDate   sql.NullTime
			reference sql.NullString
		)
		err = rows.Scan(&tx.ID, &tx.Type, &tx.Status, &tx.Amount, &tx.UserID, &orderID, &escrowID, &dueDate, &reference, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if orderID.Valid {
			tx.OrderID = &orderID.UUID
		}
		if escrowID.Valid {
			tx.EscrowAccountID = &escrowID.UUID
		}
		if dueDate.Valid {
			tx.ReleaseDueDate = &dueDate.Time
		}
		tx.Reference = reference.String
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	slog.Info("transaction history retrieved", "method", "ListByUser", "user_id", userID, "count", len(txs))
	return txs, nil
}
