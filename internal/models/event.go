package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderPlaced        EventType = "order.placed"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventEscrowReleased     EventType = "escrow.released"
	EventEscrowRefunded     EventType = "escrow.refunded"
)

// OrderEvent is published after the atomic unit that produced it commits.
type OrderEvent struct {
	EventType      EventType   `json:"event_type"`
	OrderID        uuid.UUID   `json:"order_id"`
	BuyerID        int64       `json:"buyer_id"`
	SellerID       int64       `json:"seller_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Amount         int64       `json:"amount,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// DepositEvent is consumed from the payment gateway topic.
type DepositEvent struct {
	UserID     int64  `json:"user_id"`
	Amount     int64  `json:"amount"`
	ExternalID string `json:"external_id"`
}
