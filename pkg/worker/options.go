// Package worker provides the Worker that dispatches deferred invocations.
package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-param-commands/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Queues            map[string]int // queue name -> concurrency
	PollInterval      time.Duration
	WorkerID          string
	EnableScheduler   bool
	HeartbeatInterval time.Duration
	// StaleLockAge is how long an expired lock must be stale before the
	// worker returns the invocation to its queue. Zero disables the sweep.
	StaleLockAge time.Duration
	StorageRetry *RetryConfig
	DequeueRetry *RetryConfig
	Logger       *slog.Logger
}

// Concurrency sets the concurrency of every configured queue.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		clamped := security.ClampConcurrency(n)
		for k := range c.Queues {
			c.Queues[k] = clamped
		}
	})
}

// WithScheduler enables the scheduler loop in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// WorkerQueue adds a queue to process. Options such as Concurrency apply to
// the queues configured so far.
func WorkerQueue(name string, opts ...WorkerOption) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if c.Queues == nil {
			c.Queues = make(map[string]int)
		}
		c.Queues[name] = 10
		for _, opt := range opts {
			opt.ApplyWorker(c)
		}
	})
}

// PollInterval sets how often the worker polls storage.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WorkerID overrides the generated worker ID used for lock ownership.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// HeartbeatInterval sets how often running invocations extend their lock.
func HeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// StaleLockAge enables the periodic release of abandoned locks.
func StaleLockAge(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StaleLockAge = d
	})
}

// WithLogger sets the worker logger. The host logger is used otherwise.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}

// WithStorageRetry sets the retry policy of complete, fail and heartbeat calls.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithDequeueRetry sets the retry policy of dequeue calls.
func WithDequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}

// WithRetryAttempts sets the attempt budget of storage calls, keeping the
// default backoff.
func WithRetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = n
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every storage call a single attempt.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		once := DefaultRetryConfig()
		once.MaxAttempts = 1
		dequeue := once
		c.StorageRetry = &once
		c.DequeueRetry = &dequeue
	})
}
