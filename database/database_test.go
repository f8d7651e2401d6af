package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos_inventory/config"
	"pos_inventory/models"
)

func TestOpenMigrateSeed(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, table := range []string{"discounts", "discount_product", "orders", "order_items", "products", "customers"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	ctx := context.Background()
	require.NoError(t, Seed(ctx, db, models.WalkInEmail))
	require.NoError(t, Seed(ctx, db, models.WalkInEmail))

	var count int64
	db.Model(&models.Customer{}).Where("email = ?", models.WalkInEmail).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}
