// Package audit keeps a relational log of every verification attempt, accepted
// or rejected, and classifies rejections as fraud attempts. The ledger only
// reports rejections; deciding that one is suspicious happens here.
package audit

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// InMemorySQLiteDSN is a special DSN to create an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"

	dbDirPermissions = 0o750
)

var (
	gormConfig = &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	schemaModels = []any{
		&Attempt{},
	}
)

// Open opens (or creates) the SQLite attempt log at dsn and migrates its schema
func Open(dsn string) (*gorm.DB, error) {
	if dsn != InMemorySQLiteDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), dbDirPermissions); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", dsn)
		}
		// Add SQLite connection parameters for concurrent access
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// a single connection keeps an in-memory database shared and serializes writers
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(schemaModels...); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate database schema")
	}

	return db, nil
}

// Close closes the connection behind db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}
	return nil
}
