package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is an append-only audit record of a balance-affecting event.
type Transaction struct {
	ID              int64             `json:"id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	Amount          int64             `json:"amount"`
	UserID          int64             `json:"user_id"`
	OrderID         *uuid.UUID        `json:"order_id,omitempty"`
	EscrowAccountID *uuid.UUID        `json:"escrow_account_id,omitempty"`
	ReleaseDueDate  *time.Time        `json:"release_due_date,omitempty"`
	Reference       string            `json:"reference,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type TransactionType string

const (
	TypeDeposit       TransactionType = "DEPOSIT"
	TypeEscrowHold    TransactionType = "ESCROW_HOLD"
	TypeEscrowRelease TransactionType = "ESCROW_RELEASE"
	TypeEscrowRefund  TransactionType = "ESCROW_REFUND"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeEscrowHold, TypeEscrowRelease, TypeEscrowRefund:
		return true
	}
	return false
}

// Only completed transactions are recorded; failed units roll back instead.
type TransactionStatus string

const StatusCompleted TransactionStatus = "COMPLETED"
