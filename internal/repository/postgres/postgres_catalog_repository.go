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

type PostgresCatalogRepository struct {
	db DBTX
}

func NewPostgresCatalogRepository(db DBTX) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

func (r *PostgresCatalogRepository) GetPricingTier(ctx context.Context, id int64) (tier *models.PricingTier, err error) {
	ctx, done := observability.TrackRepositoryCall(ctx, "catalog-repository", "GetPricingTier", attribute.Int64("pricing_tier_id", id))
	defer func() { done(err) }()

	query := `
		SELECT pt.id, pt.service_id, pt.price, pt.duration, pt.variant, s.id, s.user_id, s.title
		FROM pricing_tiers pt
		JOIN services s ON s.id = pt.service_id
		WHERE pt.id = $1 AND s.deleted_at IS NULL
	`
	var t models.PricingTier
	var svc models.Service
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.ServiceID,
		&t.Price,
		&t.Duration,
		&t.Variant,
		&svc.ID,
		&svc.SellerID,
		&svc.Title,
	)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("pricing tier not found", "method", "GetPricingTier", "pricing_tier_id", id)
		err = pkgerrors.ErrPricingTierNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get pricing tier", "method", "GetPricingTier", "pricing_tier_id", id, "error", err)
		return nil, fmt.Errorf("failed to get pricing tier: %w", err)
	}
	t.Service = &svc

	t.Options, err = r.options(ctx, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresCatalogRepository) options(ctx context.Context, tierID int64) ([]models.PricingOption, error) {
	query := `SELECT name, type, string_value, boolean_value FROM pricing_tier_options WHERE pricing_tier_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, tierID)
	if err != nil {
		slog.Error("failed to get pricing options", "method", "GetPricingTier", "pricing_tier_id", tierID, "error", err)
		return nil, fmt.Errorf("failed to get pricing options: %w", err)
	}
	defer rows.Close()

	var options []models.PricingOption
	for rows.Next() {
		var opt models.PricingOption
		var str sql.NullString
		var flag sql.NullBool
		if err := rows.Scan(&opt.Name, &opt.Type, &str, &flag); err != nil {
			return nil, fmt.Errorf("failed to scan pricing option: %w", err)
		}
		if str.Valid {
			opt.StringValue = &str.String
		}
		if flag.Valid {
			opt.BooleanValue = &flag.Bool
		}
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pricing options: %w", err)
	}
	return options, nil
}
