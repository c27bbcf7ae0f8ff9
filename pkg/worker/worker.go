package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/host"
	"github.com/jdziat/simple-param-commands/pkg/security"
)

// SchedulerActor is the actor recorded on invocations enqueued by the scheduler.
const SchedulerActor = "scheduler"

// Worker dispatches deferred invocations from storage.
type Worker struct {
	host   *host.Host
	config WorkerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorker creates a worker that dispatches through h.
func NewWorker(h *host.Host, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		PollInterval:      100 * time.Millisecond,
		WorkerID:          uuid.New().String(),
		HeartbeatInterval: time.Minute,
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.Queues == nil {
		config.Queues = map[string]int{"default": 10}
	}
	if config.StorageRetry == nil {
		cfg := DefaultRetryConfig()
		config.StorageRetry = &cfg
	}
	if config.DequeueRetry == nil {
		cfg := defaultDequeueRetryConfig()
		config.DequeueRetry = &cfg
	}

	logger := config.Logger
	if logger == nil {
		logger = h.Logger()
	}

	return &Worker{
		host:   h,
		config: config,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// ID returns the worker ID used for lock ownership.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Config returns a copy of the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

func (w *Worker) storage() core.Storage {
	return w.host.Storage()
}

// Start processes invocations until ctx is cancelled. In-flight invocations
// are allowed to finish before Start returns ctx.Err().
func (w *Worker) Start(ctx context.Context) error {
	if w.storage() == nil {
		return core.ErrNoStorage
	}

	queues := make([]string, 0, len(w.config.Queues))
	total := 0
	for q, c := range w.config.Queues {
		queues = append(queues, q)
		total += c
	}
	sort.Strings(queues)

	work := make(chan *core.Invocation, total)

	if w.config.EnableScheduler {
		go w.runScheduler(ctx)
	}
	if w.config.StaleLockAge > 0 {
		go w.runStaleLockSweep(ctx)
	}

	for i := 0; i < total; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, work)
	}

	w.logger.Info("worker started", "queues", queues, "concurrency", total)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(work)
			w.wg.Wait()
			w.logger.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			inv, err := w.dequeueWithRetry(ctx, queues)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("failed to dequeue after retries", "error", err)
				}
				continue
			}
			if inv != nil {
				select {
				case work <- inv:
				case <-ctx.Done():
				}
			}
		}
	}
}

func (w *Worker) dequeueWithRetry(ctx context.Context, queues []string) (*core.Invocation, error) {
	var inv *core.Invocation
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var err error
		inv, err = w.storage().Dequeue(ctx, queues, w.config.WorkerID)
		return err
	})
	return inv, err
}

func (w *Worker) processLoop(ctx context.Context, work <-chan *core.Invocation) {
	defer w.wg.Done()

	for inv := range work {
		w.process(ctx, inv)
	}
}

// process dispatches one dequeued invocation and records the outcome.
func (w *Worker) process(ctx context.Context, inv *core.Invocation) {
	start := time.Now()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, inv)

	err := w.execute(ctx, inv)
	cancelHeartbeat()

	// Bookkeeping must land even when shutdown cancelled the handler.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		w.handleError(ctx, inv, err, time.Since(start))
		return
	}

	completeErr := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.storage().Complete(ctx, inv.ID, w.config.WorkerID)
	})
	if completeErr != nil {
		w.logger.Error("failed to complete invocation after retries", "invocation_id", inv.ID, "error", completeErr)
		return
	}

	now := time.Now()
	inv.Status = core.StatusCompleted
	inv.CompletedAt = &now
	w.host.CallCompleteHooks(ctx, inv)
	w.host.Emit(&core.InvocationCompleted{Invocation: inv, Duration: time.Since(start), Timestamp: now})
}

// execute runs inv on the host. A panic outside the handler, in a hook or a
// converter, fails the invocation without retry.
func (w *Worker) execute(ctx context.Context, inv *core.Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while dispatching invocation", "invocation_id", inv.ID, "panic", r)
			err = core.NoRetry(fmt.Errorf("commands: panic: %v", r))
		}
	}()
	return w.host.ExecuteInvocation(ctx, inv, w.config.WorkerID)
}

func (w *Worker) runHeartbeat(ctx context.Context, inv *core.Invocation) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.storage().Heartbeat(ctx, inv.ID, w.config.WorkerID)
			})
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("heartbeat failed", "invocation_id", inv.ID, "error", err)
				}
			} else {
				w.logger.Debug("heartbeat sent", "invocation_id", inv.ID)
			}
		}
	}
}

// handleError fails or reschedules inv. An invocation is attempted at most
// MaxRetries+1 times.
func (w *Worker) handleError(ctx context.Context, inv *core.Invocation, err error, d time.Duration) {
	inv.LastError = security.ErrorMessage(err)

	if isTerminal(err) || inv.Attempt > inv.MaxRetries {
		w.fail(ctx, inv, err, d)
		return
	}

	delay := invocationBackoff(inv.Attempt)
	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		delay = retryAfter.Delay
	}

	retryAt := time.Now().Add(delay)
	if !w.markFailed(ctx, inv.ID, inv.LastError, &retryAt) {
		return
	}

	inv.Status = core.StatusRetrying
	inv.RunAt = &retryAt
	w.logger.Info("invocation will retry",
		"command", inv.Command, "invocation_id", inv.ID, "attempt", inv.Attempt, "next_run_at", retryAt, "error", err)
	w.host.CallRetryHooks(ctx, inv, inv.Attempt, err)
	w.host.Emit(&core.InvocationRetrying{
		Invocation: inv,
		Attempt:    inv.Attempt,
		Error:      err,
		NextRunAt:  retryAt,
		Timestamp:  time.Now(),
	})
}

func (w *Worker) fail(ctx context.Context, inv *core.Invocation, err error, d time.Duration) {
	if !w.markFailed(ctx, inv.ID, security.ErrorMessage(err), nil) {
		return
	}

	now := time.Now()
	inv.Status = core.StatusFailed
	inv.CompletedAt = &now
	w.logger.Warn("invocation failed",
		"command", inv.Command, "invocation_id", inv.ID, "attempt", inv.Attempt, "error", err)
	w.host.CallFailHooks(ctx, inv, err)
	w.host.Emit(&core.InvocationFailed{Invocation: inv, Error: err, Duration: d, Timestamp: now})
}

func (w *Worker) markFailed(ctx context.Context, id, errMsg string, retryAt *time.Time) bool {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.storage().Fail(ctx, id, w.config.WorkerID, errMsg, retryAt)
	})
	if err != nil {
		w.logger.Error("failed to record invocation failure", "invocation_id", id, "error", err)
		return false
	}
	return true
}

func (w *Worker) runStaleLockSweep(ctx context.Context) {
	ticker := time.NewTicker(w.config.StaleLockAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.releaseStaleLocks(ctx)
		}
	}
}

func (w *Worker) releaseStaleLocks(ctx context.Context) int64 {
	n, err := w.storage().ReleaseStaleLocks(ctx, w.config.StaleLockAge)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to release stale locks", "error", err)
		}
		return 0
	}
	if n > 0 {
		w.logger.Info("released stale locks", "count", n)
	}
	return n
}

func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastRun := make(map[string]time.Time)
	ctx = host.WithActor(ctx, SchedulerActor)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.enqueueDue(ctx, lastRun, time.Now())
		}
	}
}

// enqueueDue enqueues every schedule whose next run after its last run is
// not later than now.
func (w *Worker) enqueueDue(ctx context.Context, lastRun map[string]time.Time, now time.Time) {
	for _, sc := range w.host.Schedules() {
		next := sc.Schedule.Next(lastRun[sc.Key])
		if next.After(now) {
			continue
		}

		opts := []host.Option{
			host.QueueOpt(sc.Options.Queue),
			host.Priority(sc.Options.Priority),
			host.Retries(sc.Options.MaxRetries),
		}
		if sc.Options.UniqueKey != "" {
			opts = append(opts, host.Unique(sc.Options.UniqueKey))
		}

		_, err := w.host.Enqueue(ctx, sc.Command, sc.Tokens, opts...)
		switch {
		case err == nil:
			lastRun[sc.Key] = now
		case errors.Is(err, core.ErrDuplicateInvocation):
			lastRun[sc.Key] = now
			w.logger.Debug("scheduled command still active", "schedule", sc.Key)
		default:
			w.logger.Error("failed to enqueue scheduled command", "schedule", sc.Key, "error", err)
		}
	}
}
