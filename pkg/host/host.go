package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/simple-param-commands/pkg/convert"
	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/dispatch"
	intctx "github.com/jdziat/simple-param-commands/pkg/internal/context"
	"github.com/jdziat/simple-param-commands/pkg/schedule"
	"github.com/jdziat/simple-param-commands/pkg/security"
	"github.com/jdziat/simple-param-commands/pkg/tokenize"
)

// Factory creates a fresh command instance for one dispatch.
type Factory func() dispatch.Command

type entry struct {
	name        string
	factory     Factory
	usage       string
	description string
	desc        *core.HandlerDescriptor
	kind        core.ReturnKind
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	Name        string
	Usage       string
	Description string
	Handler     string
	Runtime     core.ReturnKind
	Parameters  []core.ParameterSpec
}

// ScheduledCommand is a command line run on a recurring schedule.
type ScheduledCommand struct {
	Key      string
	Command  string
	Tokens   []string
	Schedule schedule.Schedule
	Options  *Options
}

// Host registers commands and dispatches invocations to them.
type Host struct {
	storage   core.Storage
	converter core.Converter
	logger    *slog.Logger

	commands  map[string]*entry
	schedules map[string]*ScheduledCommand
	mu        sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Invocation)
	onComplete []func(context.Context, *core.Invocation)
	onFail     []func(context.Context, *core.Invocation, error)
	onRetry    []func(context.Context, *core.Invocation, int, error)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a Host. store may be nil, in which case invocations are not
// recorded and deferred dispatch is unavailable.
func New(store core.Storage, opts ...HostOption) *Host {
	h := &Host{
		storage:   store,
		converter: convert.New(),
		logger:    slog.Default(),
		commands:  make(map[string]*entry),
		schedules: make(map[string]*ScheduledCommand),
	}
	for _, opt := range opts {
		opt.applyHost(h)
	}
	return h
}

// typeChecker is implemented by converters that can report supported types.
type typeChecker interface {
	Has(t reflect.Type) bool
}

// Register adds a command under name. factory must return a new instance on
// every call. Register resolves a sample instance and panics when the name is
// invalid or already taken, or when the command has no unique, well-formed
// handler.
func (h *Host) Register(name string, factory Factory, opts ...RegisterOption) {
	if err := security.ValidateCommandName(name); err != nil {
		panic(fmt.Sprintf("commands: invalid command name %q: %v", name, err))
	}
	if factory == nil {
		panic(fmt.Sprintf("commands: command %q: nil factory", name))
	}

	sample := factory()
	if sample == nil {
		panic(fmt.Sprintf("commands: command %q: factory returned nil", name))
	}
	desc, err := dispatch.Describe(sample)
	if err != nil {
		panic(fmt.Sprintf("commands: command %q: %v", name, err))
	}
	if tc, ok := h.converter.(typeChecker); ok {
		for _, p := range desc.Parameters {
			if !tc.Has(p.Type) {
				panic(fmt.Sprintf("commands: command %q: parameter %d: no converter for %v", name, p.Index, p.Type))
			}
		}
	}

	e := &entry{
		name:    name,
		factory: factory,
		desc:    desc,
		kind:    dispatch.RuntimeOf(sample).Kind(),
	}
	for _, opt := range opts {
		opt.applyRegister(e)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.commands[name]; dup {
		panic(fmt.Sprintf("commands: command %q registered twice", name))
	}
	h.commands[name] = e
}

// HasCommand reports whether name is registered.
func (h *Host) HasCommand(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.commands[name]
	return ok
}

func (h *Host) lookup(name string) (*entry, error) {
	h.mu.RLock()
	e, ok := h.commands[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCommand, name)
	}
	return e, nil
}

// Execute dispatches name immediately with tokens and waits for the handler
// to complete. The invocation is recorded when the host has storage.
func (h *Host) Execute(ctx context.Context, name string, tokens ...string) error {
	e, err := h.lookup(name)
	if err != nil {
		return err
	}
	if err := security.ValidateTokens(tokens); err != nil {
		return err
	}

	args, err := core.EncodeTokens(tokens)
	if err != nil {
		return fmt.Errorf("commands: encode tokens: %w", err)
	}

	now := time.Now()
	inv := &core.Invocation{
		ID:        uuid.New().String(),
		Command:   name,
		Args:      args,
		Actor:     intctx.GetActor(ctx),
		Status:    core.StatusRunning,
		Attempt:   1,
		StartedAt: &now,
	}

	err = h.dispatch(ctx, e, inv, "")
	h.finish(ctx, inv, err, time.Since(now))
	return err
}

// Run splits line into a command name and tokens and executes it.
func (h *Host) Run(ctx context.Context, line string) error {
	name, tokens, err := tokenize.Command(line)
	if err != nil {
		return err
	}
	return h.Execute(ctx, name, tokens...)
}

// ExecuteInvocation dispatches a stored invocation on behalf of a worker.
// Completion bookkeeping is left to the caller.
func (h *Host) ExecuteInvocation(ctx context.Context, inv *core.Invocation, workerID string) error {
	e, err := h.lookup(inv.Command)
	if err != nil {
		return err
	}
	return h.dispatch(ctx, e, inv, workerID)
}

func (h *Host) dispatch(ctx context.Context, e *entry, inv *core.Invocation, workerID string) error {
	tokens, err := inv.Tokens()
	if err != nil {
		return core.NoRetry(fmt.Errorf("commands: decode tokens: %w", err))
	}

	ctx = intctx.WithInvocationContext(ctx, &intctx.InvocationContext{
		Invocation: inv,
		Storage:    h.storage,
		WorkerID:   workerID,
	})

	h.CallStartHooks(ctx, inv)
	h.Emit(&core.InvocationStarted{Invocation: inv, Timestamp: time.Now()})

	h.logger.Debug("dispatching command",
		"command", inv.Command, "invocation_id", inv.ID, "tokens", len(tokens))

	err = dispatch.Execute(ctx, e.factory(), core.NewParameters(tokens, h.converter))
	if err != nil && core.IsDispatchError(err) {
		h.logger.Info("command rejected", "command", inv.Command, "invocation_id", inv.ID, "error", err)
	}
	return err
}

func (h *Host) finish(ctx context.Context, inv *core.Invocation, err error, d time.Duration) {
	done := time.Now()
	inv.CompletedAt = &done

	if err == nil {
		inv.Status = core.StatusCompleted
		h.CallCompleteHooks(ctx, inv)
		h.Emit(&core.InvocationCompleted{Invocation: inv, Duration: d, Timestamp: done})
	} else {
		inv.Status = core.StatusFailed
		inv.LastError = security.ErrorMessage(err)
		h.CallFailHooks(ctx, inv, err)
		h.Emit(&core.InvocationFailed{Invocation: inv, Error: err, Duration: d, Timestamp: done})
	}

	if h.storage == nil {
		return
	}
	if rerr := h.storage.Record(context.WithoutCancel(ctx), inv); rerr != nil {
		h.logger.Warn("failed to record invocation", "command", inv.Command, "invocation_id", inv.ID, "error", rerr)
	}
}

// Enqueue stores a deferred invocation of name for a worker to dispatch.
func (h *Host) Enqueue(ctx context.Context, name string, tokens []string, opts ...Option) (string, error) {
	if h.storage == nil {
		return "", core.ErrNoStorage
	}
	if _, err := h.lookup(name); err != nil {
		return "", err
	}
	if err := security.ValidateTokens(tokens); err != nil {
		return "", err
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	if err := security.ValidateQueueName(options.Queue); err != nil {
		return "", err
	}

	args, err := core.EncodeTokens(tokens)
	if err != nil {
		return "", fmt.Errorf("commands: encode tokens: %w", err)
	}

	inv := &core.Invocation{
		ID:         uuid.New().String(),
		Command:    name,
		Args:       args,
		Actor:      intctx.GetActor(ctx),
		Queue:      options.Queue,
		Priority:   options.Priority,
		MaxRetries: security.ClampRetries(options.MaxRetries),
		Status:     core.StatusPending,
	}
	if options.Delay > 0 {
		runAt := time.Now().Add(options.Delay)
		inv.RunAt = &runAt
	}
	if options.RunAt != nil {
		inv.RunAt = options.RunAt
	}

	if options.UniqueKey != "" {
		if err := h.storage.EnqueueUnique(ctx, inv, options.UniqueKey); err != nil {
			if errors.Is(err, core.ErrDuplicateInvocation) || errors.Is(err, core.ErrUniqueKeyTooLong) {
				return "", err
			}
			return "", fmt.Errorf("commands: failed to enqueue: %w", err)
		}
	} else if err := h.storage.Enqueue(ctx, inv); err != nil {
		return "", fmt.Errorf("commands: failed to enqueue: %w", err)
	}

	h.Emit(&core.InvocationEnqueued{Invocation: inv, Timestamp: time.Now()})
	return inv.ID, nil
}

// EnqueueLine splits line and enqueues it.
func (h *Host) EnqueueLine(ctx context.Context, line string, opts ...Option) (string, error) {
	name, tokens, err := tokenize.Command(line)
	if err != nil {
		return "", err
	}
	return h.Enqueue(ctx, name, tokens, opts...)
}

// Schedule registers a recurring invocation of name with tokens. Scheduling
// the same command line again replaces the earlier schedule.
func (h *Host) Schedule(name string, sched schedule.Schedule, tokens []string, opts ...Option) error {
	if _, err := h.lookup(name); err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("commands: schedule for %q is nil", name)
	}
	if err := security.ValidateTokens(tokens); err != nil {
		return err
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	if err := security.ValidateQueueName(options.Queue); err != nil {
		return err
	}

	line := append([]string{name}, tokens...)
	sc := &ScheduledCommand{
		Key:      tokenize.Join(line),
		Command:  name,
		Tokens:   append([]string(nil), tokens...),
		Schedule: sched,
		Options:  options,
	}

	h.mu.Lock()
	h.schedules[sc.Key] = sc
	h.mu.Unlock()
	return nil
}

// Schedules returns the registered schedules ordered by key.
func (h *Host) Schedules() []*ScheduledCommand {
	h.mu.RLock()
	out := make([]*ScheduledCommand, 0, len(h.schedules))
	for _, sc := range h.schedules {
		out = append(out, sc)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Commands returns the catalog of registered commands ordered by name.
func (h *Host) Commands() []CommandInfo {
	h.mu.RLock()
	out := make([]CommandInfo, 0, len(h.commands))
	for _, e := range h.commands {
		out = append(out, e.info())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Usage returns the usage line of name, for example "give <string> [int=1]".
func (h *Host) Usage(name string) (string, error) {
	e, err := h.lookup(name)
	if err != nil {
		return "", err
	}
	return e.info().Usage, nil
}

func (e *entry) info() CommandInfo {
	usage := e.usage
	if usage == "" {
		usage = FormatParameters(e.desc.Parameters)
	}
	line := e.name
	if usage != "" {
		line += " " + usage
	}
	return CommandInfo{
		Name:        e.name,
		Usage:       line,
		Description: e.description,
		Handler:     e.desc.Name,
		Runtime:     e.kind,
		Parameters:  append([]core.ParameterSpec(nil), e.desc.Parameters...),
	}
}

// FormatParameters renders parameters as "<type>" when required and
// "[type=default]" when optional.
func FormatParameters(params []core.ParameterSpec) string {
	parts := make([]string, len(params))
	for i, p := range params {
		switch {
		case !p.HasDefault:
			parts[i] = "<" + p.Type.String() + ">"
		case isNilDefault(p.Default):
			parts[i] = "[" + p.Type.String() + "]"
		default:
			parts[i] = fmt.Sprintf("[%v=%v]", p.Type, p.Default)
		}
	}
	return strings.Join(parts, " ")
}

func isNilDefault(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Storage returns the underlying storage.
func (h *Host) Storage() core.Storage {
	return h.storage
}

// Logger returns the host logger.
func (h *Host) Logger() *slog.Logger {
	return h.logger
}

// WithActor records who issues commands dispatched with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return intctx.WithActor(ctx, actor)
}
