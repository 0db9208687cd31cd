package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/EscrowServiceTochka/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repositories struct {
	users        *PostgresUserRepository
	catalog      *PostgresCatalogRepository
	chats        *PostgresChatRepository
	orders       *PostgresOrderRepository
	escrows      *PostgresEscrowRepository
	transactions *PostgresTransactionRepository
}

func newRepositories(db DBTX) *repositories {
	return &repositories{
		users:        NewPostgresUserRepository(db),
		catalog:      NewPostgresCatalogRepository(db),
		chats:        NewPostgresChatRepository(db),
		orders:       NewPostgresOrderRepository(db),
		escrows:      NewPostgresEscrowRepository(db),
		transactions: NewPostgresTransactionRepository(db),
	}
}

func (r *repositories) Users() repository.UserRepository               { return r.users }
func (r *repositories) Catalog() repository.CatalogRepository          { return r.catalog }
func (r *repositories) Chats() repository.ChatRepository               { return r.chats }
func (r *repositories) Orders() repository.OrderRepository             { return r.orders }
func (r *repositories) Escrows() repository.EscrowRepository           { return r.escrows }
func (r *repositories) Transactions() repository.TransactionRepository { return r.transactions }

type PostgresStore struct {
	*repositories
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{repositories: newRepositories(db), db: db}
}

// WithinTx runs fn in a READ COMMITTED transaction. Repositories that need
// serialisation take row locks (SELECT ... FOR UPDATE) inside fn.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		slog.Error("failed to begin transaction", "method", "WithinTx", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err = fn(ctx, newRepositories(dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "WithinTx", "error", rbErr)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "WithinTx", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
