package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/observability"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const userTracer = "user-repository"

type PostgresUserRepository struct {
	db DBTX
}

func NewPostgresUserRepository(db DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserByID", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	query := `SELECT id, username, balance, created_at FROM users WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(ctx, "GetByID", query, id)
}

func (r *PostgresUserRepository) GetForUpdate(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, userTracer, "GetUserForUpdate", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	query := `SELECT id, username, balance, created_at FROM users WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.scanOne(ctx, "GetForUpdate", query, id)
}

func (r *PostgresUserRepository) scanOne(ctx context.Context, method, query string, id int64) (*models.User, error) {
	var user models.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.Balance, &user.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		slog.Warn("user not found", "method", method, "user_id", id)
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		slog.Error("failed to get user", "method", method, "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) ChangeBalance(ctx context.Context, userID, delta int64) (newBalance int64, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, userTracer, "ChangeBalance",
		attribute.Int64("user_id", userID),
		attribute.Int64("delta", delta),
	)
	defer func() { done(err) }()

	query := `
		UPDATE users
		SET balance = balance + $1
		WHERE id = $2
		AND ($1 > 0 OR deleted_at IS NULL)
		AND (balance + $1) >= 0
		RETURNING balance
		`
	err = r.db.QueryRowContext(ctx, query, delta, userID).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		// A credit can only miss the row; a debit may also hit the balance guard.
		if delta >= 0 {
			err = pkgerrors.ErrUserNotFound
		} else {
			err = fmt.Errorf("user %d not found or %w (needed: %d)", userID, pkgerrors.ErrInsufficientFunds, -delta)
		}
		slog.Warn("balance not changed", "method", "ChangeBalance", "user_id", userID, "delta", delta, "error", err)
		return 0, err
	}
	if err != nil {
		slog.Error("failed to change balance", "method", "ChangeBalance", "user_id", userID, "delta", delta, "error", err)
		return 0, fmt.Errorf("failed to change balance: %w", err)
	}

	slog.Info("balance changed", "method", "ChangeBalance", "user_id", userID, "delta", delta, "balance", newBalance)
	return newBalance, nil
}
