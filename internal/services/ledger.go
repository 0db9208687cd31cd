package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
)

// LedgerEntry holds the optional references recorded with a transaction.
type LedgerEntry struct {
	OrderID         *uuid.UUID
	EscrowAccountID *uuid.UUID
	ReleaseDueDate  *time.Time
	Reference       string
}

// Ledger mutates user balances and appends the matching transaction. It
// must be given repositories bound to an atomic unit.
type Ledger struct{}

func (Ledger) Credit(ctx context.Context, repos repository.Repositories, userID, amount int64, txType models.TransactionType, entry LedgerEntry) (*models.Transaction, error) {
	if amount <= 0 {
		slog.Error("credit amount must be positive", "method", "Credit", "user_id", userID, "amount", amount)
		return nil, pkgerrors.ErrInvalidAmount
	}

	if _, err := repos.Users().ChangeBalance(ctx, userID, amount); err != nil {
		return nil, err
	}
	return record(ctx, repos, userID, amount, txType, entry)
}

// Debit locks the user row before checking funds, so concurrent debits of
// the same user queue behind each other.
func (Ledger) Debit(ctx context.Context, repos repository.Repositories, userID, amount int64, txType models.TransactionType, entry LedgerEntry) (*models.Transaction, error) {
	if amount <= 0 {
		slog.Error("debit amount must be positive", "method", "Debit", "user_id", userID, "amount", amount)
		return nil, pkgerrors.ErrInvalidAmount
	}

	user, err := repos.Users().GetForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Balance < amount {
		slog.Warn("insufficient funds", "method", "Debit", "user_id", userID, "balance", user.Balance, "amount", amount)
		return nil, fmt.Errorf("user %d: %w (balance: %d, needed: %d)", userID, pkgerrors.ErrInsufficientFunds, user.Balance, amount)
	}

	if _, err := repos.Users().ChangeBalance(ctx, userID, -amount); err != nil {
		return nil, err
	}
	return record(ctx, repos, userID, amount, txType, entry)
}

func record(ctx context.Context, repos repository.Repositories, userID, amount int64, txType models.TransactionType, entry LedgerEntry) (*models.Transaction, error) {
	tx := &models.Transaction{
		Type:            txType,
		Status:          models.StatusCompleted,
		Amount:          amount,
		UserID:          userID,
		OrderID:         entry.OrderID,
		EscrowAccountID: entry.EscrowAccountID,
		ReleaseDueDate:  entry.ReleaseDueDate,
		Reference:       entry.Reference,
	}
	if _, err := repos.Transactions().Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}
