package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Category struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Slug        string    `json:"slug" gorm:"size:255"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Unit struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Slug        string    `json:"slug" gorm:"size:255"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Product struct {
	ID          int64               `json:"id" gorm:"primaryKey"`
	Name        string              `json:"name" gorm:"size:255;not null"`
	Slug        string              `json:"slug" gorm:"size:255"`
	Barcode     *string             `json:"barcode" gorm:"size:100;uniqueIndex"`
	Description string              `json:"description"`
	UnitID      *int64              `json:"unit_id"`
	CategoryID  *int64              `json:"category_id"`
	UserID      *int64              `json:"user_id"`
	Price       decimal.Decimal     `json:"price" gorm:"type:decimal(8,2);not null"`
	CostPrice   decimal.NullDecimal `json:"cost_price" gorm:"type:decimal(8,2)"`
	Quantity    int                 `json:"quantity" gorm:"not null;default:0"` // on hand
	IsActive    bool                `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	DeletedAt   gorm.DeletedAt      `json:"-" gorm:"index"`

	Category *Category `json:"category,omitempty"`
	Unit     *Unit     `json:"unit,omitempty"`
}
