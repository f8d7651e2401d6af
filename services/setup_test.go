package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pos_inventory/database"
	"pos_inventory/events"
	"pos_inventory/models"
)

const staffID int64 = 1

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes
	// transactions; sqlite ignores FOR UPDATE
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db), "Failed to migrate database")
	require.NoError(t, database.Seed(context.Background(), db, models.WalkInEmail))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func createProduct(t *testing.T, db *gorm.DB, name, price string, quantity int) models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: dec(price), Quantity: quantity, IsActive: true}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// createDiscount inserts d with an open window around now unless the caller
// set one, linking it to productIDs.
func createDiscount(t *testing.T, db *gorm.DB, d models.Discount, productIDs ...int64) models.Discount {
	t.Helper()
	now := time.Now().UTC()
	if d.StartDate.IsZero() {
		d.StartDate = now.Add(-time.Hour)
	}
	if d.EndDate.IsZero() {
		d.EndDate = now.Add(24 * time.Hour)
	}
	if d.Scope == "" {
		d.Scope = models.ScopeGeneral
	}
	require.NoError(t, db.Create(&d).Error)
	for _, pid := range productIDs {
		require.NoError(t, db.Create(&models.DiscountProduct{DiscountID: d.ID, ProductID: pid}).Error)
	}
	return d
}

func productQuantity(t *testing.T, db *gorm.DB, id int64) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, id).Error)
	return p.Quantity
}

func usageCount(t *testing.T, db *gorm.DB, id int64) int {
	t.Helper()
	var d models.Discount
	require.NoError(t, db.First(&d, id).Error)
	return d.UsageCount
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderCompleted
	err    error
}

func (p *recordingPublisher) PublishOrderCompleted(_ context.Context, evt events.OrderCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.OrderCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.OrderCompleted(nil), p.events...)
}
