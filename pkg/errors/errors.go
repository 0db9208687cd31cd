package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound             = errors.New("user not found")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrPricingTierNotFound      = errors.New("pricing tier not found")
	ErrOrderNotFound            = errors.New("order not found")
	ErrEscrowNotFound           = errors.New("escrow account not found")
	ErrIllegalTransition        = errors.New("illegal order status transition")
	ErrTransitionNotPermitted   = errors.New("transition not permitted for actor")
	ErrNotOrderParticipant      = errors.New("actor is not a participant of the order")
	ErrInvalidOrderStatus       = errors.New("invalid order status")
	ErrInvalidOrderState        = errors.New("order is not in a settleable state")
	ErrInvalidEscrowBalance     = errors.New("escrow balance must be positive")
	ErrEscrowStateConflict      = errors.New("escrow account already closed the other way")
	ErrSelfOrder                = errors.New("cannot order own service")
	ErrRequestInProgress        = errors.New("request is already being processed")
	ErrDuplicateDeposit         = errors.New("deposit already processed")
	ErrNilOrder                 = errors.New("order is nil")
	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidInput             = fmt.Errorf("invalid input")
)

// EscrowError carries the context of a failed escrow operation so callers
// can log and alert without re-querying.
type EscrowError struct {
	Op       string
	OrderID  uuid.UUID
	EscrowID uuid.UUID
	UserID   int64
	Amount   int64
	Err      error
}

func (e *EscrowError) Error() string {
	return fmt.Sprintf("escrow %s failed (order=%s escrow=%s user=%d amount=%d): %v",
		e.Op, e.OrderID, e.EscrowID, e.UserID, e.Amount, e.Err)
}

func (e *EscrowError) Unwrap() error {
	return e.Err
}
