// Package dbtest opens throwaway SQLite databases with the real migrations
// applied. It is imported from tests only.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"dealdesk-backend/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns a migrated database that is removed when the test ends.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=1&_busy_timeout=5000"), database.GormConfig())
	require.NoError(t, err)

	require.NoError(t, database.Migrate(db, "sqlite3"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// SQLite allows a single writer; one connection keeps concurrent tests
	// from failing with "database is locked".
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// CreateUser inserts a bare user row so foreign keys are satisfied.
func CreateUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO users (id, email, password, name, created_at, updated_at) VALUES (?, ?, '', ?, ?, ?)`,
		id, fmt.Sprintf("%s@example.com", id), id, now, now,
	).Error
	require.NoError(t, err)
}
