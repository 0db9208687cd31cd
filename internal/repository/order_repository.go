package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error)
	// ListByUser returns orders where the user is buyer or seller, newest first.
	// A nil status returns every status.
	ListByUser(ctx context.Context, userID int64, status *models.OrderStatus) ([]models.Order, error)
	CountByStatus(ctx context.Context, userID int64) (map[models.OrderStatus]int, error)
}
