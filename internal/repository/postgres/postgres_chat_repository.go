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
	"go.opentelemetry.io/otel/attribute"
)

type PostgresChatRepository struct {
	db DBTX
}

func NewPostgresChatRepository(db DBTX) *PostgresChatRepository {
	return &PostgresChatRepository{db: db}
}

// FindOrCreateOrderChat must run inside a transaction: the per-pair
// advisory lock is released when the transaction ends.
func (r *PostgresChatRepository) FindOrCreateOrderChat(ctx context.Context, userA, userB int64) (chat *models.Chat, err error) {
	low, high := models.ParticipantPair(userA, userB)
	ctx, done := observability.TrackRepositoryCall(ctx, "chat-repository", "FindOrCreateOrderChat",
		attribute.Int64("low_user_id", low),
		attribute.Int64("high_user_id", high),
	)
	defer func() { done(err) }()

	lockKey := fmt.Sprintf("chat:%d:%d", low, high)
	if _, err = r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		slog.Error("failed to lock chat pair", "method", "FindOrCreateOrderChat", "low_user_id", low, "high_user_id", high, "error", err)
		return nil, fmt.Errorf("failed to lock chat pair: %w", err)
	}

	query := `
		SELECT c.id, c.low_user_id, c.high_user_id, c.created_at
		FROM chats c
		WHERE c.low_user_id = $1 AND c.high_user_id = $2
		AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.chat_id = c.id)
		ORDER BY c.created_at, c.id
		LIMIT 1
	`
	var found models.Chat
	err = r.db.QueryRowContext(ctx, query, low, high).Scan(&found.ID, &found.LowUserID, &found.HighUserID, &found.CreatedAt)
	if err == nil {
		slog.Info("order-free chat reused", "method", "FindOrCreateOrderChat", "chat_id", found.ID)
		return &found, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		slog.Error("failed to find chat", "method", "FindOrCreateOrderChat", "low_user_id", low, "high_user_id", high, "error", err)
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}

	created := models.Chat{ID: uuid.New(), LowUserID: low, HighUserID: high}
	insert := `INSERT INTO chats (id, low_user_id, high_user_id) VALUES ($1, $2, $3) RETURNING created_at`
	if err = r.db.QueryRowContext(ctx, insert, created.ID, low, high).Scan(&created.CreatedAt); err != nil {
		slog.Error("failed to create chat", "method", "FindOrCreateOrderChat", "low_user_id", low, "high_user_id", high, "error", err)
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	slog.Info("chat created", "method", "FindOrCreateOrderChat", "chat_id", created.ID)
	return &created, nil
}
