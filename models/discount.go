package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DiscountType selects how CalculateDiscount derives the reduction.
type DiscountType string

const (
	Percentage DiscountType = "percentage"  // percentage of the amount
	Fixed      DiscountType = "fixed"       // fixed amount, capped at the amount
	BuyXGetY   DiscountType = "buy_x_get_y" // free units once min_quantity is bought
)

func (t DiscountType) Valid() bool {
	switch t {
	case Percentage, Fixed, BuyXGetY:
		return true
	}
	return false
}

func (t DiscountType) Label() string {
	switch t {
	case Percentage:
		return "Percentage Discount"
	case Fixed:
		return "Fixed Amount Discount"
	case BuyXGetY:
		return "Buy X Get Y Offer"
	}
	return string(t)
}

type DiscountScope string

const (
	ScopeProduct DiscountScope = "product" // specific products, or all with ApplyToAllProducts
	ScopeGeneral DiscountScope = "general" // whole cart
)

func (s DiscountScope) Valid() bool {
	return s == ScopeProduct || s == ScopeGeneral
}

type Discount struct {
	ID                 int64               `json:"id" gorm:"primaryKey"`
	Name               string              `json:"name" gorm:"size:255;not null"`
	Code               string              `json:"code" gorm:"size:100;uniqueIndex;not null"`
	Type               DiscountType        `json:"type" gorm:"size:50;not null"`
	Value              decimal.Decimal     `json:"value" gorm:"type:decimal(10,2);not null"`
	Scope              DiscountScope       `json:"scope" gorm:"size:20;not null;default:general"`
	MinQuantity        *int                `json:"min_quantity"`
	MinAmount          decimal.NullDecimal `json:"min_amount" gorm:"type:decimal(10,2)"`
	UsageLimit         *int                `json:"usage_limit"`
	UsageCount         int                 `json:"usage_count" gorm:"not null;default:0"`
	StartDate          time.Time           `json:"start_date" gorm:"not null"`
	EndDate            time.Time           `json:"end_date" gorm:"not null"`
	IsActive           bool                `json:"is_active" gorm:"not null"`
	ApplyToAllProducts bool                `json:"apply_to_all_products" gorm:"not null;default:false"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	DeletedAt          gorm.DeletedAt      `json:"-" gorm:"index"`

	Products []DiscountProduct `json:"products,omitempty" gorm:"foreignKey:DiscountID"`
}

// ProductSet returns the ids of the associated products. It reflects whatever
// was preloaded into Products.
func (d *Discount) ProductSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(d.Products))
	for _, p := range d.Products {
		set[p.ProductID] = struct{}{}
	}
	return set
}

// ProductIDs lists the associated product ids in association order.
func (d *Discount) ProductIDs() []int64 {
	ids := make([]int64, 0, len(d.Products))
	for _, p := range d.Products {
		ids = append(ids, p.ProductID)
	}
	return ids
}

// UsageExhausted reports whether usage_limit is set and already reached.
func (d *Discount) UsageExhausted() bool {
	return d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit
}
