package models

import "time"

type Service struct {
	ID        int64      `json:"id"`
	SellerID  int64      `json:"seller_id"`
	Title     string     `json:"title"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type PricingVariant string

const (
	VariantBasic    PricingVariant = "BASIC"
	VariantStandard PricingVariant = "STANDARD"
	VariantBusiness PricingVariant = "BUSINESS"
)

type PricingOption struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	StringValue  *string `json:"string_value,omitempty"`
	BooleanValue *bool   `json:"boolean_value,omitempty"`
}

// PricingTier is a purchasable package of a Service. Duration is in minutes.
type PricingTier struct {
	ID        int64           `json:"id"`
	ServiceID int64           `json:"service_id"`
	Price     int64           `json:"price"`
	Duration  int32           `json:"duration"`
	Variant   PricingVariant  `json:"variant"`
	Options   []PricingOption `json:"options,omitempty"`
	Service   *Service        `json:"service,omitempty"`
}
