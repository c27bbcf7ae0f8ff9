package storage

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig sizes the database/sql pool behind a GormStorage. Zero
// durations mean connections never expire.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig is the starting point every PoolOption adjusts: 25 open,
// 10 idle, five minute lifetime, one minute idle time.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// PoolOption adjusts a PoolConfig.
type PoolOption func(*PoolConfig)

// MaxOpenConns caps open connections. 0 means unlimited.
func MaxOpenConns(n int) PoolOption { return func(c *PoolConfig) { c.MaxOpenConns = n } }

// MaxIdleConns caps idle connections.
func MaxIdleConns(n int) PoolOption { return func(c *PoolConfig) { c.MaxIdleConns = n } }

// ConnMaxLifetime bounds how long a connection is reused.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return func(c *PoolConfig) { c.ConnMaxLifetime = d }
}

// ConnMaxIdleTime bounds how long a connection may sit idle.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return func(c *PoolConfig) { c.ConnMaxIdleTime = d }
}

// ForWorkers sizes the pool for workers running concurrency invocations in
// total. Each running invocation may hold a connection for its heartbeat and
// bookkeeping; the poll loop and the scheduler need one more each.
func ForWorkers(concurrency int) PoolOption {
	return func(c *PoolConfig) {
		concurrency = max(concurrency, 1)
		c.MaxOpenConns = concurrency + 2
		c.MaxIdleConns = min(c.MaxOpenConns, max(concurrency/2, 2))
	}
}

// singleConnection pins SQLite to one connection that never expires. SQLite
// serializes writers, and every ":memory:" connection is its own database.
func singleConnection(c *PoolConfig) {
	*c = PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

func buildPoolConfig(opts []PoolOption) PoolConfig {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// ConfigurePool applies DefaultPoolConfig, adjusted by opts, to db.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: pool: %w", err)
	}
	buildPoolConfig(opts).apply(sqlDB)
	return nil
}

// NewGormStorageWithPool configures db's pool and wraps it in a GormStorage.
func NewGormStorageWithPool(db *gorm.DB, opts ...PoolOption) (*GormStorage, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStorage(db), nil
}
