package core

import (
	"context"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// Storage defines the persistence layer for command invocations.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Record stores an invocation that was dispatched immediately.
	Record(ctx context.Context, inv *Invocation) error

	// Deferred invocation lifecycle
	Enqueue(ctx context.Context, inv *Invocation) error
	EnqueueUnique(ctx context.Context, inv *Invocation, uniqueKey string) error
	Dequeue(ctx context.Context, queues []string, workerID string) (*Invocation, error)
	Complete(ctx context.Context, id string, workerID string) error
	Fail(ctx context.Context, id string, workerID string, errMsg string, retryAt *time.Time) error

	// Locking
	Heartbeat(ctx context.Context, id string, workerID string) error
	ReleaseStaleLocks(ctx context.Context, staleDuration time.Duration) (int64, error)

	// Queries
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	GetInvocationsByStatus(ctx context.Context, status InvocationStatus, limit int) ([]*Invocation, error)
	GetInvocationsByCommand(ctx context.Context, command string, limit int) ([]*Invocation, error)
}
