// Package storage provides storage implementations for the commands package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/security"
)

// lockDuration is how long a dequeued invocation stays locked without a heartbeat.
const lockDuration = 5 * time.Minute

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying database handle.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the storage is backed by SQLite.
func (s *GormStorage) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Invocation{})
}

func fillDefaults(inv *core.Invocation, status core.InvocationStatus) {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Status == "" {
		inv.Status = status
	}
	if inv.Queue == "" {
		inv.Queue = "default"
	}
}

// Record stores an invocation that was dispatched immediately.
func (s *GormStorage) Record(ctx context.Context, inv *core.Invocation) error {
	fillDefaults(inv, core.StatusCompleted)
	inv.LastError = security.SanitizeErrorMessage(inv.LastError)
	return s.db.WithContext(ctx).Create(inv).Error
}

// Enqueue adds a deferred invocation to its queue.
func (s *GormStorage) Enqueue(ctx context.Context, inv *core.Invocation) error {
	fillDefaults(inv, core.StatusPending)
	return s.db.WithContext(ctx).Create(inv).Error
}

// EnqueueUnique adds an invocation only if no pending, retrying or running
// invocation carries the same unique key.
func (s *GormStorage) EnqueueUnique(ctx context.Context, inv *core.Invocation, uniqueKey string) error {
	if err := security.ValidateUniqueKey(uniqueKey); err != nil {
		return err
	}
	fillDefaults(inv, core.StatusPending)
	inv.UniqueKey = uniqueKey

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&core.Invocation{}).
			Where("unique_key = ?", uniqueKey).
			Where("status IN ?", activeStatuses).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrDuplicateInvocation
		}
		return tx.Create(inv).Error
	})
}

var (
	activeStatuses   = []core.InvocationStatus{core.StatusPending, core.StatusRetrying, core.StatusRunning}
	runnableStatuses = []core.InvocationStatus{core.StatusPending, core.StatusRetrying}
)

// Dequeue fetches and locks the next runnable invocation in queues.
// It returns nil, nil when nothing is due.
func (s *GormStorage) Dequeue(ctx context.Context, queues []string, workerID string) (*core.Invocation, error) {
	var inv core.Invocation
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		result := q.
			Where("queue IN ?", queues).
			Where("status IN ?", runnableStatuses).
			Where("(run_at IS NULL OR run_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("priority DESC, created_at ASC").
			First(&inv)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		inv.Status = core.StatusRunning
		inv.LockedBy = workerID
		inv.LockedUntil = &lockUntil
		inv.StartedAt = &now
		inv.Attempt++

		return tx.Save(&inv).Error
	})

	if err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, nil
	}
	return &inv, nil
}

// Complete marks an invocation as completed.
// The worker must hold the invocation's lock.
func (s *GormStorage) Complete(ctx context.Context, id string, workerID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Invocation{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"completed_at": now,
			"locked_by":    "",
			"locked_until": nil,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrInvocationNotOwned
	}
	return nil
}

// Fail marks an invocation as failed, or as retrying at retryAt when set.
// The worker must hold the invocation's lock. Error messages are sanitized
// before storage.
func (s *GormStorage) Fail(ctx context.Context, id string, workerID string, errMsg string, retryAt *time.Time) error {
	updates := map[string]any{
		"last_error":   security.SanitizeErrorMessage(errMsg),
		"locked_by":    "",
		"locked_until": nil,
	}

	if retryAt != nil {
		updates["status"] = core.StatusRetrying
		updates["run_at"] = retryAt
	} else {
		updates["status"] = core.StatusFailed
		updates["completed_at"] = time.Now()
	}

	result := s.db.WithContext(ctx).
		Model(&core.Invocation{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrInvocationNotOwned
	}
	return nil
}

// Heartbeat extends the lock on a running invocation.
func (s *GormStorage) Heartbeat(ctx context.Context, id string, workerID string) error {
	lockUntil := time.Now().Add(lockDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Invocation{}).
		Where("id = ? AND locked_by = ?", id, workerID).
		Update("locked_until", lockUntil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrInvocationNotOwned
	}
	return nil
}

// ReleaseStaleLocks returns running invocations whose lock expired more than
// staleDuration ago to the pending state.
func (s *GormStorage) ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Invocation{}).
		Where("status = ?", core.StatusRunning).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"status":       core.StatusPending,
			"locked_by":    "",
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// GetInvocation retrieves an invocation by ID. It returns nil, nil when no
// such invocation exists.
func (s *GormStorage) GetInvocation(ctx context.Context, id string) (*core.Invocation, error) {
	var inv core.Invocation
	err := s.db.WithContext(ctx).First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvocationsByStatus retrieves invocations by status, oldest first.
func (s *GormStorage) GetInvocationsByStatus(ctx context.Context, status core.InvocationStatus, limit int) ([]*core.Invocation, error) {
	var list []*core.Invocation
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// GetInvocationsByCommand retrieves the most recent invocations of command.
func (s *GormStorage) GetInvocationsByCommand(ctx context.Context, command string, limit int) ([]*core.Invocation, error) {
	var list []*core.Invocation
	err := s.db.WithContext(ctx).
		Where("command = ?", command).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

var _ core.Storage = (*GormStorage)(nil)
