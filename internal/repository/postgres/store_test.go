package repository_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	irepository "github.com/honeynil/EscrowServiceTochka/internal/repository"
	repository "github.com/honeynil/EscrowServiceTochka/internal/repository/postgres"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_WithinTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := repository.NewPostgresStore(db)
	ctx := context.Background()

	debit := func(ctx context.Context, repos irepository.Repositories) error {
		_, err := repos.Users().ChangeBalance(ctx, 1, -100)
		return err
	}

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
			WithArgs(int64(-100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(0))
		mock.ExpectCommit()

		assert.NoError(t, store.WithinTx(ctx, debit))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users`)).
			WithArgs(int64(-100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectRollback()

		err := store.WithinTx(ctx, debit)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(fmt.Errorf("rollback error"))

		err := store.WithinTx(ctx, func(context.Context, irepository.Repositories) error {
			return pkgerrors.ErrSelfOrder
		})
		assert.ErrorIs(t, err, pkgerrors.ErrSelfOrder)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(fmt.Errorf("commit error"))

		err := store.WithinTx(ctx, func(context.Context, irepository.Repositories) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginError", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

		err := store.WithinTx(ctx, func(context.Context, irepository.Repositories) error {
			t.Fatal("fn must not run without a transaction")
			return nil
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS users`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, repository.Migrate(ctx, db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS users`)).
			WillReturnError(fmt.Errorf("permission denied"))

		err := repository.Migrate(ctx, db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to apply schema")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
