// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/gormstore"
)

// NewStorage opens (or creates) the database file at path. ":memory:" opens
// a private in-memory database.
func NewStorage(path string, zapLogger *zap.Logger) (storage.Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	store, err := gormstore.Open(sqlite.Open(path), zapLogger, gormstore.Options{})
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer
	sqlDB, err := store.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return store, nil
}
