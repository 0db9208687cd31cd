package repository

import (
	"context"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Transaction, error)
}
