// Package commands binds textual command lines to typed handler methods.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	type give struct{}
//
//	func (c *give) DeclareHandlers(ms *commands.MethodSet) {
//	    ms.Add("OnExecute", c.onExecute, commands.Default(1, 1))
//	}
//
//	func (c *give) onExecute(ctx context.Context, item string, count int) error {
//	    fmt.Println("giving", count, item)
//	    return nil
//	}
//
//	h := commands.New(nil)
//	h.Register("give", func() commands.Command { return &give{} })
//	h.Run(ctx, "give apple 3")
package commands

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-param-commands/pkg/cmdctx"
	"github.com/jdziat/simple-param-commands/pkg/convert"
	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/dispatch"
	"github.com/jdziat/simple-param-commands/pkg/host"
	"github.com/jdziat/simple-param-commands/pkg/schedule"
	"github.com/jdziat/simple-param-commands/pkg/security"
	"github.com/jdziat/simple-param-commands/pkg/storage"
	"github.com/jdziat/simple-param-commands/pkg/worker"
)

type (
	// Command is implemented by every command type.
	Command = dispatch.Command

	// MethodSet collects the handler methods a command declares.
	MethodSet = dispatch.MethodSet

	// MethodOption configures a declared handler method.
	MethodOption = dispatch.MethodOption

	// ChanCommand selects the channel completion runtime when embedded.
	ChanCommand = dispatch.ChanCommand

	// Runtime adapts handler results to completions.
	Runtime = dispatch.Runtime

	// HandlerDescriptor describes a resolved handler.
	HandlerDescriptor = core.HandlerDescriptor

	// ParameterSpec describes one bindable handler parameter.
	ParameterSpec = core.ParameterSpec

	// Parameters is an ordered list of raw tokens plus their converter.
	Parameters = core.Parameters

	// Converter turns a raw token into a typed value.
	Converter = core.Converter

	// ConverterFunc adapts a function to Converter.
	ConverterFunc = core.ConverterFunc

	// Registry is the default Converter.
	Registry = convert.Registry

	// ParameterParseError reports a token the converter rejected.
	ParameterParseError = core.ParameterParseError

	// IndexOutOfRangeError reports a missing required token.
	IndexOutOfRangeError = core.IndexOutOfRangeError

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// Invocation is one recorded or deferred dispatch.
	Invocation = core.Invocation

	// InvocationStatus is the lifecycle state of an invocation.
	InvocationStatus = core.InvocationStatus

	// Storage persists invocations.
	Storage = core.Storage

	// Event is the interface for all host events.
	Event = core.Event

	// InvocationStarted is emitted when a handler starts.
	InvocationStarted = core.InvocationStarted

	// InvocationCompleted is emitted when a handler succeeds.
	InvocationCompleted = core.InvocationCompleted

	// InvocationFailed is emitted when an invocation fails for good.
	InvocationFailed = core.InvocationFailed

	// InvocationRetrying is emitted when a deferred invocation is rescheduled.
	InvocationRetrying = core.InvocationRetrying

	// InvocationEnqueued is emitted when a deferred invocation is stored.
	InvocationEnqueued = core.InvocationEnqueued

	// Host registers commands and dispatches invocations.
	Host = host.Host

	// Factory creates a fresh command instance.
	Factory = host.Factory

	// CommandInfo describes a registered command.
	CommandInfo = host.CommandInfo

	// Option modifies Options.
	Option = host.Option

	// Options holds configuration for deferred invocations.
	Options = host.Options

	// ScheduledCommand is a command line run on a recurring schedule.
	ScheduledCommand = host.ScheduledCommand

	// Worker dispatches deferred invocations.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.WorkerConfig

	// Schedule defines when a command line should run next.
	Schedule = schedule.Schedule

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusRetrying  = core.StatusRetrying
)

// DefaultHandlerName is the handler resolved unless a command names another.
const DefaultHandlerName = dispatch.DefaultHandlerName

// Security limits
const (
	MaxCommandNameLength  = security.MaxCommandNameLength
	MaxTokens             = security.MaxTokens
	MaxTokenLength        = security.MaxTokenLength
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxQueueNameLength    = security.MaxQueueNameLength
	MaxUniqueKeyLength    = security.MaxUniqueKeyLength
)

// Error variables
var (
	ErrNoMatchingMethod    = core.ErrNoMatchingMethod
	ErrAmbiguousMatch      = core.ErrAmbiguousMatch
	ErrParameterParse      = core.ErrParameterParse
	ErrIndexOutOfRange     = core.ErrIndexOutOfRange
	ErrUnknownCommand      = core.ErrUnknownCommand
	ErrEmptyCommandLine    = core.ErrEmptyCommandLine
	ErrInvalidCommandName  = core.ErrInvalidCommandName
	ErrInvalidQueueName    = core.ErrInvalidQueueName
	ErrDuplicateInvocation = core.ErrDuplicateInvocation
	ErrNoStorage           = core.ErrNoStorage
)

// New creates a Host. store may be nil for immediate dispatch only.
func New(store Storage, opts ...host.HostOption) *Host {
	return host.New(store, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewWorker creates a worker dispatching through h.
func NewWorker(h *Host, opts ...WorkerOption) *Worker {
	return worker.NewWorker(h, opts...)
}

// NewConverter creates the default token converter.
func NewConverter() *Registry {
	return convert.New()
}

// NewParameters wraps tokens for binding with converter.
func NewParameters(tokens []string, converter Converter) *Parameters {
	return core.NewParameters(tokens, converter)
}

// Execute resolves, binds and dispatches cmd with params.
func Execute(ctx context.Context, cmd Command, params *Parameters) error {
	return dispatch.Execute(ctx, cmd, params)
}

// Describe resolves cmd's handler without dispatching it.
func Describe(cmd Command) (*HandlerDescriptor, error) {
	return dispatch.Describe(cmd)
}

// Default declares the default value of the parameter at index.
func Default(index int, value any) MethodOption {
	return dispatch.Default(index, value)
}

// Go runs fn in a goroutine and returns its completion channel.
func Go(fn func() error) <-chan error {
	return dispatch.Go(fn)
}

// IsDispatchError reports whether err came from resolution or binding.
func IsDispatchError(err error) bool {
	return core.IsDispatchError(err)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// WithActor records actor on invocations dispatched with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return host.WithActor(ctx, actor)
}

// ActorFromContext returns the actor of the current invocation.
func ActorFromContext(ctx context.Context) string {
	return cmdctx.ActorFromContext(ctx)
}

// InvocationFromContext returns the current invocation, or nil.
func InvocationFromContext(ctx context.Context) *Invocation {
	return cmdctx.InvocationFromContext(ctx)
}

// Enqueue options

// QueueOpt sets the queue name.
func QueueOpt(name string) Option { return host.QueueOpt(name) }

// Priority sets the invocation priority (higher = runs first).
func Priority(p int) Option { return host.Priority(p) }

// Retries sets the retry budget of a deferred invocation.
func Retries(n int) Option { return host.Retries(n) }

// Delay defers the invocation by d.
func Delay(d time.Duration) Option { return host.Delay(d) }

// At defers the invocation until t.
func At(t time.Time) Option { return host.At(t) }

// Unique ensures only one active invocation carries key.
func Unique(key string) Option { return host.Unique(key) }

// Register options

// Usage sets a command's usage text.
func Usage(usage string) host.RegisterOption { return host.Usage(usage) }

// Description sets a command's one-line description.
func Description(text string) host.RegisterOption { return host.Description(text) }

// Host options

// WithConverter replaces the default token converter.
func WithConverter(c Converter) host.HostOption { return host.WithConverter(c) }

// Worker options

// WorkerQueue adds a queue for the worker to process.
func WorkerQueue(name string, opts ...WorkerOption) WorkerOption {
	return worker.WorkerQueue(name, opts...)
}

// Concurrency sets the concurrency of every configured queue.
func Concurrency(n int) WorkerOption { return worker.Concurrency(n) }

// WithScheduler enables the scheduler loop.
func WithScheduler(enabled bool) WorkerOption { return worker.WithScheduler(enabled) }

// PollInterval sets how often the worker polls storage.
func PollInterval(d time.Duration) WorkerOption { return worker.PollInterval(d) }

// Schedules

// Every returns a schedule that runs at a fixed interval.
func Every(d time.Duration) Schedule { return schedule.Every(d) }

// Daily returns a schedule that runs once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule { return schedule.Daily(hour, minute) }

// Cron returns a schedule for a standard cron expression. It panics on
// invalid input.
func Cron(expr string) Schedule { return schedule.Cron(expr) }
