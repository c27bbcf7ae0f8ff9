package commands_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	commands "github.com/jdziat/simple-param-commands"
	"github.com/jdziat/simple-param-commands/pkg/storage"
)

// setupTestHost creates a host over an in-memory SQLite storage.
func setupTestHost(t *testing.T) (*commands.Host, *commands.GormStorage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.MaxOpenConns(1), storage.ConnMaxLifetime(0), storage.ConnMaxIdleTime(0)))

	store := commands.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return commands.New(store), store
}

type recorder struct {
	mu   sync.Mutex
	seen [][]any
}

func (r *recorder) add(args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, args)
}

func (r *recorder) all() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]any(nil), r.seen...)
}

type giveCommand struct{ rec *recorder }

func (c *giveCommand) DeclareHandlers(ms *commands.MethodSet) {
	ms.Add("OnExecute", c.onExecute, commands.Default(1, 1))
}

func (c *giveCommand) onExecute(ctx context.Context, item string, count int) error {
	c.rec.add(item, count, commands.ActorFromContext(ctx))
	return nil
}

type chanCommand struct {
	commands.ChanCommand
	rec *recorder
}

func (c *chanCommand) DeclareHandlers(ms *commands.MethodSet) {
	ms.Add("OnExecute", c.onExecute)
}

func (c *chanCommand) onExecute(n int) <-chan error {
	return commands.Go(func() error {
		if n < 0 {
			return errors.New("negative")
		}
		c.rec.add(n)
		return nil
	})
}

type voidCommand struct{}

func (voidCommand) DeclareHandlers(ms *commands.MethodSet) {
	ms.Add("OnExecute", func() {})
}

func TestFacade_Execute(t *testing.T) {
	rec := &recorder{}
	params := commands.NewParameters([]string{"apple"}, commands.NewConverter())

	err := commands.Execute(context.Background(), &giveCommand{rec: rec}, params)

	require.NoError(t, err)
	assert.Equal(t, [][]any{{"apple", 1, ""}}, rec.all())
}

func TestFacade_Describe(t *testing.T) {
	desc, err := commands.Describe(&giveCommand{})
	require.NoError(t, err)
	assert.Equal(t, commands.DefaultHandlerName, desc.Name)
	assert.Equal(t, 2, desc.Arity())
	assert.Equal(t, 1, desc.Required())

	_, err = commands.Describe(voidCommand{})
	assert.ErrorIs(t, err, commands.ErrNoMatchingMethod)
	assert.True(t, commands.IsDispatchError(err))
}

func TestFacade_HostRunAndRecord(t *testing.T) {
	h, store := setupTestHost(t)
	rec := &recorder{}
	h.Register("give", func() commands.Command { return &giveCommand{rec: rec} })
	h.Register("count", func() commands.Command { return &chanCommand{rec: rec} })

	ctx := commands.WithActor(context.Background(), "alice")
	require.NoError(t, h.Run(ctx, "give 'golden apple' 3"))
	require.NoError(t, h.Run(ctx, "count 7"))
	assert.EqualError(t, h.Run(ctx, "count -1"), "negative")

	err := h.Run(ctx, "give apple many")
	var parseErr *commands.ParameterParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 1, parseErr.Index)

	err = h.Run(ctx, "give")
	var indexErr *commands.IndexOutOfRangeError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, 0, indexErr.Index)

	assert.ErrorIs(t, h.Run(ctx, "jump"), commands.ErrUnknownCommand)
	assert.ErrorIs(t, h.Run(ctx, "   "), commands.ErrEmptyCommandLine)

	assert.Equal(t, [][]any{{"golden apple", 3, "alice"}, {7}}, rec.all())

	failed, err := store.GetInvocationsByStatus(ctx, commands.StatusFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 3)
}

func TestFacade_RegisterRejectsBadCommands(t *testing.T) {
	h, _ := setupTestHost(t)

	assert.Panics(t, func() {
		h.Register("void", func() commands.Command { return voidCommand{} })
	})
	assert.Panics(t, func() {
		h.Register("9lives", func() commands.Command { return &giveCommand{} })
	})
}

func TestFacade_WorkerProcessesEnqueued(t *testing.T) {
	h, store := setupTestHost(t)
	rec := &recorder{}
	h.Register("give", func() commands.Command { return &giveCommand{rec: rec} })

	var completed sync.WaitGroup
	completed.Add(2)
	h.OnComplete(func(context.Context, *commands.Invocation) { completed.Done() })

	ctx := commands.WithActor(context.Background(), "bob")
	id1, err := h.EnqueueLine(ctx, "give sword 2", commands.Priority(10))
	require.NoError(t, err)
	id2, err := h.Enqueue(ctx, "give", []string{"shield"}, commands.Retries(0))
	require.NoError(t, err)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := commands.NewWorker(h, commands.WorkerQueue("default", commands.Concurrency(1)), commands.PollInterval(5*time.Millisecond))
	go func() { _ = w.Start(workerCtx) }()

	waitCh := make(chan struct{})
	go func() {
		completed.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for invocations")
	}

	assert.ElementsMatch(t, [][]any{{"sword", 2, "bob"}, {"shield", 1, "bob"}}, rec.all())
	assert.Equal(t, []any{"sword", 2, "bob"}, rec.all()[0], "higher priority runs first")

	for _, id := range []string{id1, id2} {
		require.Eventually(t, func() bool {
			inv, err := store.GetInvocation(context.Background(), id)
			return err == nil && inv != nil && inv.Status == commands.StatusCompleted
		}, time.Second, 10*time.Millisecond)
	}
}

func TestFacade_RetryWrappers(t *testing.T) {
	base := errors.New("x")

	var noRetry *commands.NoRetryError
	assert.ErrorAs(t, commands.NoRetry(base), &noRetry)

	var retryAfter *commands.RetryAfterError
	require.ErrorAs(t, commands.RetryAfter(time.Second, base), &retryAfter)
	assert.Equal(t, time.Second, retryAfter.Delay)
}

func TestFacade_Schedules(t *testing.T) {
	h, _ := setupTestHost(t)
	h.Register("give", func() commands.Command { return &giveCommand{rec: &recorder{}} })

	require.NoError(t, h.Schedule("give", commands.Every(time.Minute), []string{"bread"}))
	require.NoError(t, h.Schedule("give", commands.Daily(6, 0), []string{"milk", "2"}))
	require.NoError(t, h.Schedule("give", commands.Cron("*/5 * * * *"), []string{"eggs"}))

	assert.Len(t, h.Schedules(), 3)
}
