package repository_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	repository "github.com/honeynil/EscrowServiceTochka/internal/repository/postgres"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tierColumns = []string{"id", "service_id", "price", "duration", "variant", "id", "user_id", "title"}

func TestPostgresCatalogRepository_GetPricingTier(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresCatalogRepository(db)
	ctx := context.Background()

	t.Run("WithOptions", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM pricing_tiers pt JOIN services s ON s.id = pt.service_id WHERE pt.id = $1 AND s.deleted_at IS NULL`)).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(tierColumns).AddRow(3, 10, 750, 90, "STANDARD", 10, 2, "Logo design"))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, type, string_value, boolean_value FROM pricing_tier_options WHERE pricing_tier_id = $1`)).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"name", "type", "string_value", "boolean_value"}).
				AddRow("revisions", "string", "3", nil).
				AddRow("source files", "boolean", nil, true))

		tier, err := repo.GetPricingTier(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(750), tier.Price)
		assert.Equal(t, int32(90), tier.Duration)
		assert.Equal(t, models.VariantStandard, tier.Variant)
		require.NotNil(t, tier.Service)
		assert.Equal(t, int64(2), tier.Service.SellerID)

		require.Len(t, tier.Options, 2)
		require.NotNil(t, tier.Options[0].StringValue)
		assert.Equal(t, "3", *tier.Options[0].StringValue)
		assert.Nil(t, tier.Options[0].BooleanValue)
		require.NotNil(t, tier.Options[1].BooleanValue)
		assert.True(t, *tier.Options[1].BooleanValue)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFoundOrServiceDeleted", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM pricing_tiers pt`)).
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows(tierColumns))

		_, err := repo.GetPricingTier(ctx, 4)
		assert.ErrorIs(t, err, pkgerrors.ErrPricingTierNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OptionsError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM pricing_tiers pt`)).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(tierColumns).AddRow(5, 10, 100, 60, "BASIC", 10, 2, "Logo design"))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM pricing_tier_options`)).
			WithArgs(int64(5)).
			WillReturnError(fmt.Errorf("database error"))

		_, err := repo.GetPricingTier(ctx, 5)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get pricing options")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresChatRepository_FindOrCreateOrderChat(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresChatRepository(db)
	ctx := context.Background()
	lock := regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`)
	chatColumns := []string{"id", "low_user_id", "high_user_id", "created_at"}

	t.Run("ReusesOrderFreeChat", func(t *testing.T) {
		existing := uuid.New()
		mock.ExpectExec(lock).WithArgs("chat:1:2").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`NOT EXISTS (SELECT 1 FROM orders o WHERE o.chat_id = c.id)`)).
			WithArgs(int64(1), int64(2)).
			WillReturnRows(sqlmock.NewRows(chatColumns).AddRow(existing.String(), 1, 2, fixedTime))

		chat, err := repo.FindOrCreateOrderChat(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, existing, chat.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CreatesWhenNoneFree", func(t *testing.T) {
		mock.ExpectExec(lock).WithArgs("chat:1:2").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(`FROM chats c`)).
			WithArgs(int64(1), int64(2)).
			WillReturnRows(sqlmock.NewRows(chatColumns))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO chats (id, low_user_id, high_user_id) VALUES ($1, $2, $3) RETURNING created_at`)).
			WithArgs(sqlmock.AnyArg(), int64(1), int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(fixedTime))

		chat, err := repo.FindOrCreateOrderChat(ctx, 1, 2)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, chat.ID)
		assert.Equal(t, int64(1), chat.LowUserID)
		assert.Equal(t, int64(2), chat.HighUserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LockError", func(t *testing.T) {
		mock.ExpectExec(lock).WithArgs("chat:1:2").WillReturnError(fmt.Errorf("database error"))

		_, err := repo.FindOrCreateOrderChat(ctx, 1, 2)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to lock chat pair")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
