package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderReview     OrderStatus = "REVIEW"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCanceled   OrderStatus = "CANCELED"
)

var OrderStatuses = []OrderStatus{OrderPending, OrderInProgress, OrderReview, OrderCompleted, OrderCanceled}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderInProgress, OrderReview, OrderCompleted, OrderCanceled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCanceled
}

type Order struct {
	ID            uuid.UUID   `json:"id"`
	BuyerID       int64       `json:"buyer_id"`
	SellerID      int64       `json:"seller_id"`
	PricingTierID int64       `json:"pricing_tier_id"`
	ChatID        uuid.UUID   `json:"chat_id"`
	Status        OrderStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
