package models

import (
	"time"
)

// DiscountProduct links a product-scoped discount to one product. The pair is
// the primary key, so a product is attached to a discount at most once.
type DiscountProduct struct {
	DiscountID int64     `json:"discount_id" gorm:"primaryKey;autoIncrement:false"`
	ProductID  int64     `json:"product_id" gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DiscountProduct) TableName() string {
	return "discount_product"
}
