package repository

import (
	"context"

	"github.com/honeynil/EscrowServiceTochka/internal/models"
)

type CatalogRepository interface {
	// GetPricingTier returns the tier with its service populated. Tiers of
	// soft-deleted services are not found.
	GetPricingTier(ctx context.Context, id int64) (*models.PricingTier, error)
}
