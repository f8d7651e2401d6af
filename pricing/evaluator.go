// Package pricing decides whether a discount applies to a candidate amount,
// quantity and product, and how much it takes off. Everything here is pure:
// the discount, the candidate and the evaluation time are all arguments.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"pos_inventory/models"
)

// Reasons returned by Check, in evaluation order.
var (
	ErrInactive           = errors.New("discount is not active")
	ErrDeleted            = errors.New("discount has been deleted")
	ErrNotStarted         = errors.New("discount has not started yet")
	ErrExpired            = errors.New("discount has expired")
	ErrUsageLimitReached  = errors.New("discount usage limit reached")
	ErrMinQuantityNotMet  = errors.New("minimum quantity not met")
	ErrMinAmountNotMet    = errors.New("minimum amount not met")
	ErrProductRequired    = errors.New("discount must be applied to a specific product")
	ErrProductNotEligible = errors.New("product is not eligible for this discount")
)

var hundred = decimal.NewFromInt(100)

// Check returns nil when d applies to the candidate at time now, or the first
// rule that rejects it. product may be nil; general discounts ignore it.
func Check(d *models.Discount, amount decimal.Decimal, quantity int, product *models.Product, now time.Time) error {
	if !d.IsActive {
		return ErrInactive
	}
	if d.DeletedAt.Valid {
		return ErrDeleted
	}
	if now.Before(d.StartDate) {
		return ErrNotStarted
	}
	if now.After(d.EndDate) {
		return ErrExpired
	}
	if d.UsageExhausted() {
		return ErrUsageLimitReached
	}
	if d.MinQuantity != nil && quantity < *d.MinQuantity {
		return ErrMinQuantityNotMet
	}
	if d.MinAmount.Valid && amount.LessThan(d.MinAmount.Decimal) {
		return ErrMinAmountNotMet
	}

	if d.Scope == models.ScopeProduct {
		if product == nil {
			return ErrProductRequired
		}
		if !d.ApplyToAllProducts {
			if _, ok := d.ProductSet()[product.ID]; !ok {
				return ErrProductNotEligible
			}
		}
	}
	return nil
}

// IsApplicable is Check reduced to a yes/no answer.
func IsApplicable(d *models.Discount, amount decimal.Decimal, quantity int, product *models.Product, now time.Time) bool {
	return Check(d, amount, quantity, product, now) == nil
}

// CalculateDiscount returns the reduction d yields on amount, rounded to
// cents and clamped to [0, amount]. quantity is the number of units amount
// covers; only buy_x_get_y uses it. Validity is not re-checked here.
//
// buy_x_get_y: X is MinQuantity (1 when unset) and Y is the whole part of
// Value. Every complete group of X+Y units makes Y of them free, each valued
// at amount/quantity.
func CalculateDiscount(d *models.Discount, amount decimal.Decimal, quantity int) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	var off decimal.Decimal
	switch d.Type {
	case models.Percentage:
		off = amount.Mul(d.Value).Div(hundred)
	case models.Fixed:
		off = decimal.Min(d.Value, amount)
	case models.BuyXGetY:
		off = buyXGetY(d, amount, quantity)
	default:
		return decimal.Zero
	}

	return clamp(off.Round(2), amount)
}

func buyXGetY(d *models.Discount, amount decimal.Decimal, quantity int) decimal.Decimal {
	buy := 1
	if d.MinQuantity != nil && *d.MinQuantity > 0 {
		buy = *d.MinQuantity
	}
	free := int(d.Value.IntPart())
	if free < 1 || quantity < buy {
		return decimal.Zero
	}

	freeUnits := (quantity / (buy + free)) * free
	if freeUnits == 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(int64(freeUnits))).Div(decimal.NewFromInt(int64(quantity)))
}

func clamp(v, max decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
