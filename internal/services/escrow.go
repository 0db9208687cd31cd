package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/EscrowServiceTochka/internal/infrastructure/observability"
	"github.com/honeynil/EscrowServiceTochka/internal/models"
	"github.com/honeynil/EscrowServiceTochka/internal/repository"
	pkgerrors "github.com/honeynil/EscrowServiceTochka/pkg/errors"
)

type SettlementOutcome string

const (
	SettlementClosed        SettlementOutcome = "settled"
	SettlementAlreadyClosed SettlementOutcome = "already_closed"
)

// Settlement reports what a release or refund did. Amount is the sum paid
// out, zero when the account was already closed.
type Settlement struct {
	Outcome  SettlementOutcome
	EscrowID uuid.UUID
	UserID   int64
	Amount   int64
}

const (
	opOpen    = "open"
	opRelease = "release"
	opRefund  = "refund"
)

type EscrowEngine struct {
	ledger Ledger
}

func NewEscrowEngine() *EscrowEngine {
	return &EscrowEngine{}
}

// Open creates a HELD account for order and moves amount from the buyer
// into it. repos must be bound to an atomic unit.
func (e *EscrowEngine) Open(ctx context.Context, repos repository.Repositories, order *models.Order, amount int64, releaseDueDate, disputeDeadline time.Time) (*models.EscrowAccount, error) {
	fail := func(escrowID uuid.UUID, err error) error {
		return &pkgerrors.EscrowError{Op: opOpen, OrderID: order.ID, EscrowID: escrowID, UserID: order.BuyerID, Amount: amount, Err: err}
	}
	if amount <= 0 {
		return nil, fail(uuid.Nil, pkgerrors.ErrInvalidAmount)
	}

	account := &models.EscrowAccount{
		ID:              uuid.New(),
		OrderID:         order.ID,
		UserID:          order.BuyerID,
		Status:          models.EscrowHeld,
		ReleaseDueDate:  releaseDueDate,
		DisputeDeadline: disputeDeadline,
	}
	if err := repos.Escrows().Create(ctx, account); err != nil {
		return nil, fail(account.ID, err)
	}

	_, err := e.ledger.Debit(ctx, repos, order.BuyerID, amount, models.TypeEscrowHold, LedgerEntry{
		OrderID:         &account.OrderID,
		EscrowAccountID: &account.ID,
		ReleaseDueDate:  &account.ReleaseDueDate,
	})
	if err != nil {
		return nil, fail(account.ID, err)
	}

	balance, err := repos.Escrows().AddBalance(ctx, account.ID, amount)
	if err != nil {
		return nil, fail(account.ID, err)
	}
	account.Balance = balance

	slog.Info("escrow opened", "method", "Open", "order_id", order.ID, "escrow_id", account.ID, "buyer_id", order.BuyerID, "amount", amount)
	return account, nil
}

// Release pays the escrowed amount to the seller of a COMPLETED order.
func (e *EscrowEngine) Release(ctx context.Context, repos repository.Repositories, order *models.Order) (Settlement, error) {
	return e.settle(ctx, repos, order, settlePlan{
		op:          opRelease,
		orderStatus: models.OrderCompleted,
		closeAs:     models.EscrowReleased,
		conflict:    models.EscrowRefunded,
		beneficiary: order.SellerID,
		txType:      models.TypeEscrowRelease,
	})
}

// Refund returns the escrowed amount to the buyer of a CANCELED order.
func (e *EscrowEngine) Refund(ctx context.Context, repos repository.Repositories, order *models.Order) (Settlement, error) {
	return e.settle(ctx, repos, order, settlePlan{
		op:          opRefund,
		orderStatus: models.OrderCanceled,
		closeAs:     models.EscrowRefunded,
		conflict:    models.EscrowReleased,
		beneficiary: order.BuyerID,
		txType:      models.TypeEscrowRefund,
	})
}

type settlePlan struct {
	op          string
	orderStatus models.OrderStatus
	closeAs     models.EscrowStatus
	conflict    models.EscrowStatus
	beneficiary int64
	txType      models.TransactionType
}

func (e *EscrowEngine) settle(ctx context.Context, repos repository.Repositories, order *models.Order, plan settlePlan) (result Settlement, err error) {
	logger := observability.WithContext(ctx, "method", plan.op, "order_id", order.ID, "seller_id", order.SellerID, "buyer_id", order.BuyerID)
	defer func() {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = "error"
		}
		observability.EscrowSettlements.WithLabelValues(plan.op, outcome).Inc()
	}()

	escrowErr := &pkgerrors.EscrowError{Op: plan.op, OrderID: order.ID, UserID: plan.beneficiary}
	fail := func(cause error) (Settlement, error) {
		escrowErr.Err = cause
		return Settlement{}, escrowErr
	}

	if order.Status != plan.orderStatus {
		logger.Error("order is not settleable", "status", order.Status, "required", plan.orderStatus)
		return fail(pkgerrors.ErrInvalidOrderState)
	}

	account, err := repos.Escrows().GetByOrderIDForUpdate(ctx, order.ID)
	if err != nil {
		logger.Error("escrow account not loaded", "error", err)
		return fail(err)
	}
	escrowErr.EscrowID = account.ID
	escrowErr.Amount = account.Balance

	switch account.Status {
	case plan.closeAs:
		logger.Warn("escrow account already closed", "escrow_id", account.ID, "status", account.Status)
		return Settlement{Outcome: SettlementAlreadyClosed, EscrowID: account.ID, UserID: plan.beneficiary}, nil
	case plan.conflict:
		logger.Error("escrow account closed the other way", "escrow_id", account.ID, "status", account.Status)
		return fail(pkgerrors.ErrEscrowStateConflict)
	}

	amount := account.Balance
	if amount <= 0 {
		logger.Error("held escrow account has no balance", "escrow_id", account.ID, "balance", amount)
		return fail(pkgerrors.ErrInvalidEscrowBalance)
	}

	if err := repos.Escrows().Close(ctx, account.ID, plan.closeAs); err != nil {
		logger.Error("failed to close escrow account", "escrow_id", account.ID, "error", err)
		return fail(err)
	}

	_, err = e.ledger.Credit(ctx, repos, plan.beneficiary, amount, plan.txType, LedgerEntry{
		OrderID:         &account.OrderID,
		EscrowAccountID: &account.ID,
	})
	if err != nil {
		logger.Error("failed to credit escrowed funds", "escrow_id", account.ID, "user_id", plan.beneficiary, "error", err)
		return fail(err)
	}

	logger.Info("escrow account settled", "escrow_id", account.ID, "status", plan.closeAs, "user_id", plan.beneficiary, "amount", amount)
	return Settlement{Outcome: SettlementClosed, EscrowID: account.ID, UserID: plan.beneficiary, Amount: amount}, nil
}
