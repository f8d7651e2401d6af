package database

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pos_inventory/config"
	"pos_inventory/models"
)

// Open connects with the configured driver. TranslateError is on so unique
// violations surface as gorm.ErrDuplicatedKey on every dialect.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db handle")
	}
	if cfg.Driver == "sqlite" {
		// one writer at a time; sqlite serializes writes anyway
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "db ping failed")
	}
	return db, nil
}

func logLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Customer{},
		&models.Category{},
		&models.Unit{},
		&models.Product{},
		&models.Discount{},
		&models.DiscountProduct{},
		&models.Order{},
		&models.OrderItem{},
	)
}

// Seed inserts the walk-in customer and a default staff user when missing.
func Seed(ctx context.Context, db *gorm.DB, walkInEmail string) error {
	walkIn := models.Customer{Name: "Walkin Customer", Email: walkInEmail, Phone: "08124638776"}
	if err := db.WithContext(ctx).Where(models.Customer{Email: walkInEmail}).FirstOrCreate(&walkIn).Error; err != nil {
		return errors.Wrap(err, "seed walk-in customer")
	}

	staff := models.User{Name: "Front Desk", Email: "staff@rpg-pos.com"}
	if err := db.WithContext(ctx).Where(models.User{Email: staff.Email}).FirstOrCreate(&staff).Error; err != nil {
		return errors.Wrap(err, "seed staff user")
	}
	return nil
}
