package repository

import (
	"context"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	// GetForUpdate locks the user row until the enclosing unit ends.
	GetForUpdate(ctx context.Context, id int64) (*models.User, error)
	// ChangeBalance applies delta and returns the new balance. It never lets
	// the balance go negative. Credits still reach soft-deleted users so that
	// money held for them can always leave escrow.
	ChangeBalance(ctx context.Context, userID, delta int64) (newBalance int64, err error)
}
