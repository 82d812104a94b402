package repository

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkessels/paybridge/app/models"
	"github.com/mkessels/paybridge/internal/pkg/env"
)

const testDatabaseName = "paybridge_test"

// resolveTestDB connects to a reachable MySQL endpoint and returns a GORM
// handle on an isolated test schema, or skips the test when no endpoint
// is reachable.
func resolveTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	hosts := []string{
		env.GetEnv("DB_HOST", ""),
		"db",
		"localhost",
		"127.0.0.1",
	}
	port := env.GetEnv("DB_PORT", "3306")
	user := env.GetEnv("DB_USER", "root")
	password := env.GetEnv("DB_PASSWORD", "")

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}

		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/?charset=utf8mb4&parseTime=True&loc=Local&timeout=2s",
			user, password, host, port)
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			lastErr = err
			continue
		}

		if err := db.Exec("CREATE DATABASE IF NOT EXISTS " + testDatabaseName).Error; err != nil {
			lastErr = err
			continue
		}
		if err := db.Exec("USE " + testDatabaseName).Error; err != nil {
			lastErr = err
			continue
		}

		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.SetConnMaxLifetime(time.Minute)
		}

		if err := db.AutoMigrate(&models.OrderRecord{}, &models.WebhookEvent{}); err != nil {
			t.Fatalf("failed to migrate test schema: %v", err)
		}

		t.Cleanup(func() {
			_ = db.Exec("DELETE FROM order_records").Error
			_ = db.Exec("DELETE FROM webhook_events").Error
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
		})

		return db
	}

	t.Skipf("Skipping MySQL-dependent test: no reachable MySQL endpoint (%v)", lastErr)
	return nil
}
