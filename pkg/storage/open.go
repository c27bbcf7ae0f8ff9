package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to driver ("sqlite" or "postgres") at dsn, configures the
// pool and migrates the schema. SQLite always uses a single connection and
// ignores pool options.
func Open(ctx context.Context, driver, dsn string, log *slog.Logger, pool ...PoolOption) (*GormStorage, error) {
	var dialector gorm.Dialector

	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
		pool = []PoolOption{singleConnection}
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}

	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(slog.NewLogLogger(log.Handler(), slog.LevelWarn), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}

	s, err := NewGormStorageWithPool(db, pool...)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
