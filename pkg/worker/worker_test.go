package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-param-commands/pkg/cmdctx"
	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/dispatch"
	"github.com/jdziat/simple-param-commands/pkg/host"
	"github.com/jdziat/simple-param-commands/pkg/schedule"
	"github.com/jdziat/simple-param-commands/pkg/storage"
)

func TestWorkerConfig_Defaults(t *testing.T) {
	config := WorkerConfig{
		Queues:       nil,
		PollInterval: 100 * time.Millisecond,
		WorkerID:     "test-worker",
	}

	assert.Nil(t, config.Queues)
	assert.Equal(t, 100*time.Millisecond, config.PollInterval)
	assert.Equal(t, "test-worker", config.WorkerID)
	assert.False(t, config.EnableScheduler)
}

func TestConcurrency_AppliesCorrectly(t *testing.T) {
	config := WorkerConfig{
		Queues: map[string]int{
			"default": 1,
			"high":    1,
		},
	}

	Concurrency(5).ApplyWorker(&config)

	assert.Equal(t, 5, config.Queues["default"])
	assert.Equal(t, 5, config.Queues["high"])
}

func TestConcurrency_ClampedToMax(t *testing.T) {
	config := WorkerConfig{
		Queues: map[string]int{
			"default": 1,
		},
	}

	// MaxConcurrency is 1000
	Concurrency(5000).ApplyWorker(&config)

	assert.Equal(t, 1000, config.Queues["default"])
}

func TestConcurrency_ClampedToMin(t *testing.T) {
	config := WorkerConfig{
		Queues: map[string]int{
			"default": 10,
		},
	}

	Concurrency(0).ApplyWorker(&config)

	assert.Equal(t, 1, config.Queues["default"])
}

func TestWithScheduler_Enables(t *testing.T) {
	config := WorkerConfig{}

	WithScheduler(true).ApplyWorker(&config)

	assert.True(t, config.EnableScheduler)
}

func TestWithScheduler_Disables(t *testing.T) {
	config := WorkerConfig{EnableScheduler: true}

	WithScheduler(false).ApplyWorker(&config)

	assert.False(t, config.EnableScheduler)
}

func TestWorkerQueue_AddsQueue(t *testing.T) {
	config := WorkerConfig{}

	WorkerQueue("emails").ApplyWorker(&config)

	require.NotNil(t, config.Queues)
	assert.Contains(t, config.Queues, "emails")
	assert.Equal(t, 10, config.Queues["emails"]) // default concurrency
}

func TestWorkerQueue_WithConcurrency(t *testing.T) {
	config := WorkerConfig{}

	WorkerQueue("high-priority", Concurrency(20)).ApplyWorker(&config)

	require.NotNil(t, config.Queues)
	assert.Equal(t, 20, config.Queues["high-priority"])
}

func TestWorkerQueue_MultipleQueues(t *testing.T) {
	config := WorkerConfig{}

	WorkerQueue("default").ApplyWorker(&config)
	WorkerQueue("critical").ApplyWorker(&config)
	WorkerQueue("low").ApplyWorker(&config)

	require.NotNil(t, config.Queues)
	// All queues have default concurrency of 10
	assert.Equal(t, 10, config.Queues["default"])
	assert.Equal(t, 10, config.Queues["critical"])
	assert.Equal(t, 10, config.Queues["low"])
}

func TestWorkerQueue_ConcurrencyAffectsAllQueues(t *testing.T) {
	config := WorkerConfig{}

	WorkerQueue("default").ApplyWorker(&config)
	WorkerQueue("critical").ApplyWorker(&config)

	Concurrency(5).ApplyWorker(&config)

	assert.Equal(t, 5, config.Queues["default"])
	assert.Equal(t, 5, config.Queues["critical"])
}

func TestWorkerOptionFunc_ImplementsInterface(t *testing.T) {
	var opt WorkerOption = workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = "custom-id"
	})

	config := WorkerConfig{}
	opt.ApplyWorker(&config)

	assert.Equal(t, "custom-id", config.WorkerID)
}

func TestWorkerOptions_Timing(t *testing.T) {
	config := WorkerConfig{PollInterval: time.Second, HeartbeatInterval: time.Minute}

	PollInterval(10 * time.Millisecond).ApplyWorker(&config)
	HeartbeatInterval(0).ApplyWorker(&config)
	StaleLockAge(time.Hour).ApplyWorker(&config)
	WorkerID("w-1").ApplyWorker(&config)

	assert.Equal(t, 10*time.Millisecond, config.PollInterval)
	assert.Equal(t, time.Minute, config.HeartbeatInterval, "non-positive interval is ignored")
	assert.Equal(t, time.Hour, config.StaleLockAge)
	assert.Equal(t, "w-1", config.WorkerID)
}

// ---------------------------------------------------------------------------
// Processing
// ---------------------------------------------------------------------------

type sumCommand struct{ total *atomic.Int64 }

func (c *sumCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute, dispatch.Default(1, 0))
}

func (c *sumCommand) onExecute(ctx context.Context, a, b int) error {
	if !cmdctx.IsDeferred(ctx) {
		return errors.New("expected deferred dispatch")
	}
	c.total.Add(int64(a + b))
	return nil
}

type flakyCommand struct{ calls *atomic.Int32 }

func (c *flakyCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", func() error {
		c.calls.Add(1)
		return core.RetryAfter(10*time.Millisecond, errors.New("busy"))
	})
}

type fatalCommand struct{ calls *atomic.Int32 }

func (c *fatalCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", func() error {
		c.calls.Add(1)
		return core.NoRetry(errors.New("bad account"))
	})
}

type fixture struct {
	host  *host.Host
	store *storage.GormStorage
	total atomic.Int64
	flaky atomic.Int32
	fatal atomic.Int32
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.MaxOpenConns(1), storage.ConnMaxLifetime(0), storage.ConnMaxIdleTime(0)))

	f := &fixture{store: storage.NewGormStorage(db)}
	require.NoError(t, f.store.Migrate(context.Background()))

	f.host = host.New(f.store, host.WithLogger(quietLogger()))
	f.host.Register("sum", func() dispatch.Command { return &sumCommand{total: &f.total} })
	f.host.Register("flaky", func() dispatch.Command { return &flakyCommand{calls: &f.flaky} })
	f.host.Register("fatal", func() dispatch.Command { return &fatalCommand{calls: &f.fatal} })
	return f
}

// startWorker runs a fast-polling worker until the test ends.
func (f *fixture) startWorker(t *testing.T, opts ...WorkerOption) *Worker {
	t.Helper()
	opts = append([]WorkerOption{PollInterval(5 * time.Millisecond), WorkerQueue("default", Concurrency(2))}, opts...)
	w := NewWorker(f.host, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func (f *fixture) waitStatus(t *testing.T, id string, status core.InvocationStatus) *core.Invocation {
	t.Helper()
	var inv *core.Invocation
	require.Eventually(t, func() bool {
		got, err := f.store.GetInvocation(context.Background(), id)
		if err != nil || got == nil {
			return false
		}
		inv = got
		return got.Status == status
	}, 5*time.Second, 10*time.Millisecond, "invocation %s never reached %s", id, status)
	return inv
}

func TestNewWorker_Defaults(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.host)

	cfg := w.Config()
	assert.Equal(t, map[string]int{"default": 10}, cfg.Queues)
	assert.NotEmpty(t, w.ID())
	require.NotNil(t, cfg.StorageRetry)
	require.NotNil(t, cfg.DequeueRetry)
	assert.Equal(t, 5, cfg.StorageRetry.MaxAttempts)
	assert.Equal(t, 3, cfg.DequeueRetry.MaxAttempts)
}

func TestWorker_NoStorage(t *testing.T) {
	h := host.New(nil, host.WithLogger(quietLogger()))
	w := NewWorker(h)

	err := w.Start(context.Background())

	assert.ErrorIs(t, err, core.ErrNoStorage)
}

func TestWorker_CompletesInvocation(t *testing.T) {
	f := newFixture(t)
	events := f.host.Events()
	defer f.host.Unsubscribe(events)

	id, err := f.host.Enqueue(context.Background(), "sum", []string{"2", "3"})
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusCompleted)

	assert.Equal(t, int64(5), f.total.Load())
	assert.Equal(t, 1, inv.Attempt)
	assert.Empty(t, inv.LockedBy)
	assert.NotNil(t, inv.CompletedAt)

	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if c, ok := e.(*core.InvocationCompleted); ok && c.Invocation.ID == id {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_DefaultParameter(t *testing.T) {
	f := newFixture(t)

	id, err := f.host.EnqueueLine(context.Background(), "sum 7")
	require.NoError(t, err)
	f.startWorker(t)

	f.waitStatus(t, id, core.StatusCompleted)
	assert.Equal(t, int64(7), f.total.Load())
}

func TestWorker_DispatchErrorIsTerminal(t *testing.T) {
	f := newFixture(t)

	id, err := f.host.Enqueue(context.Background(), "sum", []string{"two"}, host.Retries(5))
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)

	assert.Equal(t, 1, inv.Attempt, "parse errors must not be retried")
	assert.Contains(t, inv.LastError, "cannot parse")
	assert.Zero(t, f.total.Load())
}

func TestWorker_MissingParameterIsTerminal(t *testing.T) {
	f := newFixture(t)

	id, err := f.host.Enqueue(context.Background(), "sum", nil, host.Retries(5))
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)
	assert.Equal(t, 1, inv.Attempt)
	assert.Contains(t, inv.LastError, "out of range")
}

func TestWorker_UnknownCommandIsTerminal(t *testing.T) {
	f := newFixture(t)

	args, err := core.EncodeTokens(nil)
	require.NoError(t, err)
	inv := &core.Invocation{Command: "ghost", Args: args, MaxRetries: 3}
	require.NoError(t, f.store.Enqueue(context.Background(), inv))
	f.startWorker(t)

	got := f.waitStatus(t, inv.ID, core.StatusFailed)
	assert.Equal(t, 1, got.Attempt)
	assert.Contains(t, got.LastError, "no command registered")
}

func TestWorker_NoRetryIsTerminal(t *testing.T) {
	f := newFixture(t)

	id, err := f.host.Enqueue(context.Background(), "fatal", nil, host.Retries(3))
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)
	assert.Equal(t, 1, inv.Attempt)
	assert.Equal(t, int32(1), f.fatal.Load())
}

func TestWorker_LongRejectedTokenShortenedInLastError(t *testing.T) {
	f := newFixture(t)
	token := strings.Repeat("x", 1000)

	id, err := f.host.Enqueue(context.Background(), "sum", []string{token})
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)
	assert.Contains(t, inv.LastError, "cannot parse")
	assert.NotContains(t, inv.LastError, token)
	assert.Less(t, len(inv.LastError), 400)
}

func TestWorker_PanicFailsInvocation(t *testing.T) {
	f := newFixture(t)
	f.host.OnStart(func(_ context.Context, inv *core.Invocation) {
		if inv.Command == "sum" {
			panic("hook exploded")
		}
	})

	id, err := f.host.Enqueue(context.Background(), "sum", []string{"1", "2"}, host.Retries(3))
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)
	assert.Equal(t, 1, inv.Attempt)
	assert.Contains(t, inv.LastError, "hook exploded")
	assert.Zero(t, f.total.Load())
}

func TestWorker_RetriesUntilBudgetSpent(t *testing.T) {
	f := newFixture(t)
	var retries atomic.Int32
	f.host.OnRetry(func(context.Context, *core.Invocation, int, error) { retries.Add(1) })

	id, err := f.host.Enqueue(context.Background(), "flaky", nil, host.Retries(2))
	require.NoError(t, err)
	f.startWorker(t)

	inv := f.waitStatus(t, id, core.StatusFailed)

	assert.Equal(t, 3, inv.Attempt, "one attempt plus two retries")
	assert.Equal(t, int32(3), f.flaky.Load())
	assert.Equal(t, int32(2), retries.Load())
	assert.Contains(t, inv.LastError, "busy")
}

func TestWorker_HandleErrorSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.host, WorkerID("w-test"), DisableRetry())
	ctx := context.Background()

	id, err := f.host.Enqueue(ctx, "sum", []string{"1"}, host.Retries(2))
	require.NoError(t, err)
	inv, err := f.store.Dequeue(ctx, []string{"default"}, "w-test")
	require.NoError(t, err)
	require.NotNil(t, inv)

	before := time.Now()
	w.handleError(ctx, inv, errors.New("downstream unavailable"), time.Millisecond)

	got, err := f.store.GetInvocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, got.Status)
	require.NotNil(t, got.RunAt)
	assert.WithinDuration(t, before.Add(2*time.Second), *got.RunAt, time.Second)
	assert.Equal(t, core.StatusRetrying, inv.Status)
}

func TestWorker_ReleaseStaleLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.host.Enqueue(ctx, "sum", []string{"1"})
	require.NoError(t, err)
	inv, err := f.store.Dequeue(ctx, []string{"default"}, "gone-worker")
	require.NoError(t, err)
	require.NotNil(t, inv)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.store.DB().Model(&core.Invocation{}).
		Where("id = ?", id).Update("locked_until", past).Error)

	w := NewWorker(f.host, StaleLockAge(time.Minute))
	assert.Equal(t, int64(1), w.releaseStaleLocks(ctx))

	got, err := f.store.GetInvocation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Empty(t, got.LockedBy)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

func TestEnqueueDue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Schedule("sum", schedule.Every(time.Hour), []string{"1", "2"}, host.Priority(4)))
	w := NewWorker(f.host)

	ctx := host.WithActor(context.Background(), SchedulerActor)
	lastRun := make(map[string]time.Time)
	now := time.Now()

	w.enqueueDue(ctx, lastRun, now)
	w.enqueueDue(ctx, lastRun, now.Add(time.Minute))

	list, err := f.store.GetInvocationsByCommand(ctx, "sum", 10)
	require.NoError(t, err)
	require.Len(t, list, 1, "second tick is before the next run")
	assert.Equal(t, SchedulerActor, list[0].Actor)
	assert.Equal(t, 4, list[0].Priority)
	tokens, err := list[0].Tokens()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, tokens)

	w.enqueueDue(ctx, lastRun, now.Add(2*time.Hour))
	list, err = f.store.GetInvocationsByCommand(ctx, "sum", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestEnqueueDue_UniqueStillActive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Schedule("sum", schedule.Every(time.Millisecond), []string{"1"}, host.Unique("sum-1")))
	w := NewWorker(f.host)

	ctx := context.Background()
	lastRun := make(map[string]time.Time)
	now := time.Now()

	w.enqueueDue(ctx, lastRun, now)
	w.enqueueDue(ctx, lastRun, now.Add(time.Second))

	list, err := f.store.GetInvocationsByCommand(ctx, "sum", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, now.Add(time.Second), lastRun["sum 1"])
}

func TestWorker_SchedulerRunsCommands(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Schedule("sum", schedule.Every(time.Hour), []string{"20", "22"}))

	f.startWorker(t, WithScheduler(true))

	require.Eventually(t, func() bool {
		return f.total.Load() == 42
	}, 5*time.Second, 10*time.Millisecond)
}
