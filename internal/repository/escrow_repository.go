package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type EscrowRepository interface {
	Create(ctx context.Context, account *models.EscrowAccount) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowAccount, error)
	GetByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.EscrowAccount, error)
	AddBalance(ctx context.Context, id uuid.UUID, delta int64) (newBalance int64, err error)
	// Close moves a HELD account to status and zeroes its balance.
	Close(ctx context.Context, id uuid.UUID, status models.EscrowStatus) error
}
