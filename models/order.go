package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {OrderRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderCompleted, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether an order in status s may move to next.
// Cancelled and refunded are terminal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID                int64           `json:"id" gorm:"primaryKey"`
	OrderNumber       string          `json:"order_number" gorm:"size:64;uniqueIndex;not null"`
	CustomerID        *int64          `json:"customer_id" gorm:"index"`
	UserID            int64           `json:"user_id" gorm:"not null;index"`
	Status            OrderStatus     `json:"status" gorm:"size:20;not null;default:pending"`
	Subtotal          decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	TaxAmount         decimal.Decimal `json:"tax_amount" gorm:"type:decimal(10,2);not null;default:0"`
	TotalDiscount     decimal.Decimal `json:"total_discount" gorm:"type:decimal(10,2);not null;default:0"`
	ProductDiscounts  decimal.Decimal `json:"product_discounts" gorm:"type:decimal(10,2);not null;default:0"`
	GeneralDiscount   decimal.Decimal `json:"general_discount" gorm:"type:decimal(10,2);not null;default:0"`
	GeneralDiscountID *int64          `json:"general_discount_id"`
	Total             decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	Notes             string          `json:"notes"`
	PaymentMethod     string          `json:"payment_method" gorm:"size:50;not null;default:cash"`
	AmountTendered    decimal.Decimal `json:"amount_tendered" gorm:"type:decimal(10,2);not null;default:0"`
	ChangeDue         decimal.Decimal `json:"change_due" gorm:"type:decimal(10,2);not null;default:0"`
	IdempotencyKey    *string         `json:"-" gorm:"size:128;uniqueIndex"`
	IdempotencyHash   string          `json:"-" gorm:"size:64"` // sha256 of the submitted cart
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `json:"-" gorm:"index"`

	Customer           *Customer   `json:"customer,omitempty"`
	User               *User       `json:"-"`
	GeneralDiscountRef *Discount   `json:"-" gorm:"foreignKey:GeneralDiscountID"`
	Items              []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	ID             int64           `json:"id" gorm:"primaryKey"`
	OrderID        int64           `json:"order_id" gorm:"not null;index"`
	ProductID      int64           `json:"product_id" gorm:"not null;index"`
	Quantity       int             `json:"quantity" gorm:"not null"`
	UnitPrice      decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	DiscountID     *int64          `json:"discount_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null;default:0"`
	Total          decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Product  *Product  `json:"product,omitempty"`
	Discount *Discount `json:"-"`
}

// LineTotal is quantity*unitPrice - discountAmount, rounded to cents.
func LineTotal(quantity int, unitPrice, discountAmount decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Sub(discountAmount).Round(2)
}
