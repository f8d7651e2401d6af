package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pos_inventory/models"
	"pos_inventory/pricing"
)

const discountsPerPage = 10

type DiscountInput struct {
	Name               string               `json:"name" binding:"required,max=255"`
	Code               string               `json:"code" binding:"required,max=100"`
	Type               models.DiscountType  `json:"type" binding:"required,oneof=percentage fixed buy_x_get_y"`
	Value              *decimal.Decimal     `json:"value" binding:"required"`
	Scope              models.DiscountScope `json:"scope" binding:"required,oneof=product general"`
	MinQuantity        *int                 `json:"min_quantity" binding:"omitempty,min=1"`
	MinAmount          *decimal.Decimal     `json:"min_amount"`
	UsageLimit         *int                 `json:"usage_limit" binding:"omitempty,min=1"`
	StartDate          *time.Time           `json:"start_date" binding:"required"`
	EndDate            *time.Time           `json:"end_date" binding:"required"`
	IsActive           *bool                `json:"is_active"`
	ApplyToAllProducts bool                 `json:"apply_to_all_products"`
	ProductIDs         []int64              `json:"product_ids" binding:"omitempty,dive,gt=0"`
}

type Page[T any] struct {
	Data        []T   `json:"data"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

type ValidateQuery struct {
	Code      string
	Amount    decimal.Decimal
	Quantity  int
	ProductID *int64
}

// ValidationResult answers a discount code lookup. It is advisory: nothing is
// reserved and the checkout re-checks everything.
type ValidationResult struct {
	Valid          bool             `json:"valid"`
	Discount       *models.Discount `json:"discount,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	Scope          string           `json:"scope,omitempty"`
	ApplicableTo   map[string]int64 `json:"applicable_to,omitempty"`
	Message        string           `json:"message,omitempty"`
}

type DiscountService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDiscountService(db *gorm.DB) *DiscountService {
	return &DiscountService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DiscountService) ListDiscounts(ctx context.Context, page int) (*Page[models.Discount], error) {
	if page < 1 {
		page = 1
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Discount{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var discounts []models.Discount
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * discountsPerPage).
		Limit(discountsPerPage).
		Find(&discounts).Error
	if err != nil {
		return nil, err
	}

	lastPage := int((total + discountsPerPage - 1) / discountsPerPage)
	if lastPage < 1 {
		lastPage = 1
	}
	return &Page[models.Discount]{
		Data:        discounts,
		CurrentPage: page,
		PerPage:     discountsPerPage,
		Total:       total,
		LastPage:    lastPage,
	}, nil
}

func (s *DiscountService) CreateDiscount(ctx context.Context, in DiscountInput) (*models.Discount, error) {
	var discount models.Discount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := validateDiscountInput(tx, in, 0); err != nil {
			return err
		}

		applyInput(&discount, in)
		discount.IsActive = in.IsActive == nil || *in.IsActive
		if err := tx.Omit(clause.Associations).Create(&discount).Error; err != nil {
			return err
		}

		if discount.Scope == models.ScopeProduct && !discount.ApplyToAllProducts {
			return attachProducts(tx, discount.ID, in.ProductIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDiscount(ctx, discount.ID)
}

func (s *DiscountService) GetDiscount(ctx context.Context, id int64) (*models.Discount, error) {
	var discount models.Discount
	if err := s.db.WithContext(ctx).Preload("Products").First(&discount, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &discount, nil
}

// UpdateDiscount replaces the discount's attributes. Product links are
// detached when the discount becomes general or apply-to-all, replaced when
// product_ids is non-empty, and left alone otherwise.
func (s *DiscountService) UpdateDiscount(ctx context.Context, id int64, in DiscountInput) (*models.Discount, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Discount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := validateDiscountInput(tx, in, id); err != nil {
			return err
		}

		applyInput(&existing, in)
		if in.IsActive != nil {
			existing.IsActive = *in.IsActive
		}
		if err := tx.Omit(clause.Associations).Save(&existing).Error; err != nil {
			return err
		}

		switch {
		case existing.Scope == models.ScopeGeneral, existing.ApplyToAllProducts:
			return detachProducts(tx, id)
		case len(in.ProductIDs) > 0:
			if err := detachProducts(tx, id); err != nil {
				return err
			}
			return attachProducts(tx, id, in.ProductIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetDiscount(ctx, id)
}

// DeleteDiscount soft-deletes; orders keep referencing the row.
func (s *DiscountService) DeleteDiscount(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&models.Discount{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EligibleProducts lists the products a discount can be applied to: every
// product for general and apply-to-all discounts, the linked ones otherwise.
func (s *DiscountService) EligibleProducts(ctx context.Context, id int64) ([]models.Product, error) {
	discount, err := s.GetDiscount(ctx, id)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Order("name")
	if discount.Scope == models.ScopeProduct && !discount.ApplyToAllProducts {
		q = q.Where("id IN (?)", s.db.Model(&models.DiscountProduct{}).Select("product_id").Where("discount_id = ?", id))
	}

	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// ValidateCode looks up a discount by code and evaluates it against the given
// amount, quantity and optional product. An unknown code is ErrNotFound; an
// inapplicable one is a result with Valid false.
func (s *DiscountService) ValidateCode(ctx context.Context, q ValidateQuery) (*ValidationResult, error) {
	v := newValidationError()
	if strings.TrimSpace(q.Code) == "" {
		v.Add("code", "is required")
	}
	if q.Amount.IsNegative() {
		v.Add("amount", "must be at least 0")
	}
	if q.Quantity < 0 {
		v.Add("quantity", "must be at least 0")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	var discount models.Discount
	err := s.db.WithContext(ctx).Preload("Products").Where("code = ?", strings.TrimSpace(q.Code)).First(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var product *models.Product
	if q.ProductID != nil {
		var p models.Product
		if err := s.db.WithContext(ctx).First(&p, *q.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fieldError("product_id", "selected product does not exist")
			}
			return nil, err
		}
		product = &p
	}

	if discount.Scope == models.ScopeProduct && product == nil {
		return &ValidationResult{Message: "This discount must be applied to a specific product"}, nil
	}
	if err := pricing.Check(&discount, q.Amount, q.Quantity, product, s.now()); err != nil {
		return &ValidationResult{Message: "Discount is not applicable: " + err.Error()}, nil
	}

	amount := pricing.CalculateDiscount(&discount, q.Amount, q.Quantity)
	applicableTo := map[string]int64{}
	if product != nil {
		applicableTo["product_id"] = product.ID
	}
	return &ValidationResult{
		Valid:          true,
		Discount:       &discount,
		DiscountAmount: &amount,
		Scope:          string(discount.Scope),
		ApplicableTo:   applicableTo,
	}, nil
}

func applyInput(d *models.Discount, in DiscountInput) {
	d.Name = strings.TrimSpace(in.Name)
	d.Code = strings.TrimSpace(in.Code)
	d.Type = in.Type
	d.Value = in.Value.Round(2)
	d.Scope = in.Scope
	d.MinQuantity = in.MinQuantity
	d.MinAmount = decimal.NullDecimal{}
	if in.MinAmount != nil {
		d.MinAmount = decimal.NewNullDecimal(in.MinAmount.Round(2))
	}
	d.UsageLimit = in.UsageLimit
	d.StartDate = in.StartDate.UTC()
	d.EndDate = in.EndDate.UTC()
	d.ApplyToAllProducts = in.ApplyToAllProducts
}

// validateDiscountInput checks in against storage; excludeID skips the
// discount being updated in the code uniqueness check.
func validateDiscountInput(tx *gorm.DB, in DiscountInput, excludeID int64) error {
	v := newValidationError()

	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		v.Add("name", "is required")
	case len(name) > 255:
		v.Add("name", "may not be greater than 255 characters")
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		v.Add("code", "is required")
	}
	if !in.Type.Valid() {
		v.Add("type", "is invalid")
	}
	if !in.Scope.Valid() {
		v.Add("scope", "is invalid")
	}
	switch {
	case in.Value == nil:
		v.Add("value", "is required")
	case in.Value.IsNegative():
		v.Add("value", "must be at least 0")
	}
	if in.MinQuantity != nil && *in.MinQuantity < 1 {
		v.Add("min_quantity", "must be at least 1")
	}
	if in.MinAmount != nil && in.MinAmount.IsNegative() {
		v.Add("min_amount", "must be at least 0")
	}
	if in.UsageLimit != nil && *in.UsageLimit < 1 {
		v.Add("usage_limit", "must be at least 1")
	}
	switch {
	case in.StartDate == nil:
		v.Add("start_date", "is required")
	case in.EndDate == nil:
		v.Add("end_date", "is required")
	case !in.EndDate.After(*in.StartDate):
		v.Add("end_date", "must be a date after start_date")
	}

	if code != "" {
		var taken int64
		q := tx.Unscoped().Model(&models.Discount{}).Where("code = ?", code)
		if excludeID != 0 {
			q = q.Where("id <> ?", excludeID)
		}
		if err := q.Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			v.Add("code", "has already been taken")
		}
	}

	if len(in.ProductIDs) > 0 {
		ids := uniqueIDs(in.ProductIDs)
		var found int64
		if err := tx.Model(&models.Product{}).Where("id IN ?", ids).Count(&found).Error; err != nil {
			return err
		}
		if int(found) != len(ids) {
			v.Add("product_ids", "selected products do not all exist")
		}
	}

	return v.OrNil()
}

func attachProducts(tx *gorm.DB, discountID int64, productIDs []int64) error {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return nil
	}
	links := make([]models.DiscountProduct, 0, len(ids))
	for _, pid := range ids {
		links = append(links, models.DiscountProduct{DiscountID: discountID, ProductID: pid})
	}
	if err := tx.Create(&links).Error; err != nil {
		return errors.Wrapf(err, "attach products to discount %d", discountID)
	}
	return nil
}

func detachProducts(tx *gorm.DB, discountID int64) error {
	return tx.Where("discount_id = ?", discountID).Delete(&models.DiscountProduct{}).Error
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
