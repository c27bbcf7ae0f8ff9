package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// StatusCount is the number of invocations of one command in one status.
type StatusCount struct {
	Command string
	Status  core.InvocationStatus
	Count   int64
}

// CountByStatus returns invocation counts grouped by command and status.
func (s *GormStorage) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := s.db.WithContext(ctx).
		Model(&core.Invocation{}).
		Select("command, status, count(*) as count").
		Group("command, status").
		Order("command, status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RetryInvocation resets a failed invocation so a worker picks it up again.
func (s *GormStorage) RetryInvocation(ctx context.Context, id string) (*core.Invocation, error) {
	var inv core.Invocation
	if err := s.db.WithContext(ctx).First(&inv, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if inv.Status != core.StatusFailed {
		return nil, fmt.Errorf("commands: cannot retry invocation with status %q", inv.Status)
	}

	err := s.db.WithContext(ctx).Model(&inv).Updates(map[string]any{
		"status":       core.StatusPending,
		"attempt":      0,
		"last_error":   "",
		"run_at":       nil,
		"started_at":   nil,
		"completed_at": nil,
	}).Error
	if err != nil {
		return nil, err
	}

	inv.Status = core.StatusPending
	inv.Attempt = 0
	inv.LastError = ""
	inv.RunAt = nil
	inv.StartedAt = nil
	inv.CompletedAt = nil
	return &inv, nil
}

// PurgeInvocations deletes finished invocations in status created before cutoff.
// A zero cutoff deletes all of them.
func (s *GormStorage) PurgeInvocations(ctx context.Context, status core.InvocationStatus, cutoff time.Time) (int64, error) {
	switch status {
	case core.StatusCompleted, core.StatusFailed:
	default:
		return 0, fmt.Errorf("commands: cannot purge invocations with status %q", status)
	}

	q := s.db.WithContext(ctx).Where("status = ?", status)
	if !cutoff.IsZero() {
		q = q.Where("created_at < ?", cutoff)
	}
	result := q.Delete(&core.Invocation{})
	return result.RowsAffected, result.Error
}
