package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/mkessels/paybridge/app/models"
	"github.com/mkessels/paybridge/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Connect opens the MySQL connection for the order store with a bounded
// retry loop (the database container may still be starting). TranslateError
// is enabled so duplicate-key races surface as gorm.ErrDuplicatedKey.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)

	var db *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{TranslateError: true})
		if err == nil {
			if migrateErr := db.AutoMigrate(
				&models.OrderRecord{},
				&models.WebhookEvent{},
			); migrateErr != nil {
				return nil, fmt.Errorf("auto-migrate failed: %w", migrateErr)
			}
			return db, nil
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("database unreachable after %d tries: %w", maxRetries, err)
}
