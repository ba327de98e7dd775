// internal/storage/postgres/postgres.go
package postgres

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/gormstore"
)

const migrationLockID = 101

// ErrMigrationInProgress is returned when another process holds the
// migration lock.
var ErrMigrationInProgress = errors.New("another migration is in progress")

// NewStorage подключается к PostgreSQL и настраивает пул соединений.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	store, err := gormstore.Open(postgres.Open(dsn), zapLogger, gormstore.Options{
		MigrationLock: advisoryLock,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := store.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return store, nil
}

// advisoryLock берёт pg_try_advisory_lock, чтобы миграции не шли параллельно.
func advisoryLock(db *gorm.DB) (func(), error) {
	var lockObtained bool
	if err := db.Raw("SELECT pg_try_advisory_lock(?)", migrationLockID).Scan(&lockObtained).Error; err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return nil, ErrMigrationInProgress
	}
	return func() {
		db.Exec("SELECT pg_advisory_unlock(?)", migrationLockID)
	}, nil
}
