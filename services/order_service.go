package services

import (
	"context"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pos_inventory/logging"
	"pos_inventory/models"
)

type OrderService struct {
	db *gorm.DB
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves an order along its lifecycle. Only the status column
// changes; totals and items are fixed at checkout.
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if !status.Valid() {
		return nil, fieldError("status", "is invalid")
	}

	var from models.OrderStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "status").First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		from = order.Status
		if !from.CanTransitionTo(status) {
			return fieldError("status", "cannot change from "+string(from)+" to "+string(status))
		}
		return tx.Model(&models.Order{}).Where("id = ?", id).Update("status", status).Error
	})
	if err != nil {
		return nil, err
	}

	logging.Log(logging.Fields{OrderID: id, Step: "status", Status: string(status), Message: "from " + string(from)})
	return s.GetOrder(ctx, id)
}
