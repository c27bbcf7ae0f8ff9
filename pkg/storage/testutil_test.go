package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance pinned to one connection, since
// every SQLite :memory: connection is its own database.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		require.NoError(t, err, "open postgres test db")
		require.NoError(t, ConfigurePool(db, MaxOpenConns(2), MaxIdleConns(1)))

		cleanupDB(db)
		t.Cleanup(func() {
			cleanupDB(db)
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), cfg)
	require.NoError(t, err, "open in-memory sqlite")
	require.NoError(t, ConfigurePool(db, MaxOpenConns(1), MaxIdleConns(1), ConnMaxLifetime(0), ConnMaxIdleTime(0)))
	return db
}

func cleanupDB(db *gorm.DB) {
	db.Exec("DELETE FROM invocations")
}

// newTestStorage creates a migrated storage for one test.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newTestInvocation builds a minimal valid invocation.
func newTestInvocation(t *testing.T, queue, command string, tokens ...string) *core.Invocation {
	t.Helper()
	args, err := core.EncodeTokens(tokens)
	require.NoError(t, err)
	return &core.Invocation{
		Command: command,
		Queue:   queue,
		Args:    args,
	}
}
