package models

import (
	"time"

	"github.com/google/uuid"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowRefunded EscrowStatus = "REFUNDED"
)

// EscrowAccount holds the buyer's payment for exactly one order. It is
// funded on creation and closed exactly once, by release or refund.
type EscrowAccount struct {
	ID              uuid.UUID    `json:"id"`
	OrderID         uuid.UUID    `json:"order_id"`
	UserID          int64        `json:"user_id"`
	Balance         int64        `json:"balance"`
	Status          EscrowStatus `json:"status"`
	ReleaseDueDate  time.Time    `json:"release_due_date"`
	DisputeDeadline time.Time    `json:"dispute_deadline"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
