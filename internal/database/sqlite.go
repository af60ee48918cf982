package database

import (
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/identity"
)

// ErrDatabaseLocked indicates another process already serves the database file.
var ErrDatabaseLocked = errors.New("database: locked by another process")

// Handle is an open database plus the lock that makes this process its only writer.
type Handle struct {
	DB   *gorm.DB
	lock *flock.Flock
}

// Close releases the connection and the lock.
func (h *Handle) Close() error {
	var closeErr error
	if sqlDB, err := h.DB.DB(); err == nil {
		closeErr = sqlDB.Close()
	}
	if h.lock != nil {
		if err := h.lock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

// OpenSQLite locks the database file, establishes the connection and performs schema
// migrations. Snapshot fan-out is in-process, so a second process on the same file
// would miss updates; the lock refuses it.
func OpenSQLite(path string, logger *zap.Logger) (*Handle, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lock *flock.Flock
	if !inMemory(path) {
		lock = flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire database lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, path)
		}
	}
	release := func() {
		if lock != nil {
			_ = lock.Unlock()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		release()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		release()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		_ = sqlDB.Close()
		release()
		return nil, err
	}

	logger.Info("database initialized", zap.String("path", path))
	return &Handle{DB: db, lock: lock}, nil
}

// Migrate creates the schema and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	models := append(docstore.Models(), &identity.Identity{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}
