package repository

import (
	"context"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type ChatRepository interface {
	// FindOrCreateOrderChat returns the oldest chat between the two users
	// that has no order attached, creating one if none exists. Lookup and
	// creation are a single atomic step per participant pair.
	FindOrCreateOrderChat(ctx context.Context, userA, userB int64) (*models.Chat, error)
}
