package services

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"

	"pos_inventory/models"
)

// CatalogService serves the read-only views the POS terminal loads before
// composing a cart.
type CatalogService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListPOSProducts returns sellable products: active with stock on hand.
func (s *CatalogService) ListPOSProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Preload("Category").
		Preload("Unit").
		Where("is_active = ? AND quantity > ?", true, 0).
		Order("name").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := s.db.WithContext(ctx).Order("name").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

// ProductDiscounts returns the product-scoped discounts currently usable for
// productID, either linked to it or marked apply-to-all. Quantity and amount
// thresholds depend on the cart and are not checked here.
func (s *CatalogService) ProductDiscounts(ctx context.Context, productID int64) ([]models.Discount, error) {
	db := s.db.WithContext(ctx)
	if err := db.Select("id").First(&models.Product{}, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := s.now()
	linked := db.Model(&models.DiscountProduct{}).Select("discount_id").Where("product_id = ?", productID)

	var discounts []models.Discount
	err := db.
		Where("scope = ? AND is_active = ?", models.ScopeProduct, true).
		Where("start_date <= ? AND end_date >= ?", now, now).
		Where("usage_limit IS NULL OR usage_count < usage_limit").
		Where("apply_to_all_products = ? OR id IN (?)", true, linked).
		Order("id").
		Find(&discounts).Error
	if err != nil {
		return nil, err
	}
	return discounts, nil
}
