package host

import (
	"log/slog"
	"time"

	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/security"
)

// HostOption configures a Host.
type HostOption interface {
	applyHost(*Host)
}

type hostOptionFunc func(*Host)

func (f hostOptionFunc) applyHost(h *Host) { f(h) }

// WithConverter sets the converter used to type parameter tokens.
func WithConverter(c core.Converter) HostOption {
	return hostOptionFunc(func(h *Host) {
		h.converter = c
	})
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) HostOption {
	return hostOptionFunc(func(h *Host) {
		if l != nil {
			h.logger = l
		}
	})
}

// RegisterOption configures a registered command.
type RegisterOption interface {
	applyRegister(*entry)
}

type registerOptionFunc func(*entry)

func (f registerOptionFunc) applyRegister(e *entry) { f(e) }

// Usage overrides the generated parameter usage of a command.
func Usage(usage string) RegisterOption {
	return registerOptionFunc(func(e *entry) {
		e.usage = usage
	})
}

// Description sets the one-line help text of a command.
func Description(text string) RegisterOption {
	return registerOptionFunc(func(e *entry) {
		e.description = text
	})
}

// Options holds configuration for deferred invocations.
type Options struct {
	Queue      string
	Priority   int
	MaxRetries int
	Delay      time.Duration
	RunAt      *time.Time
	UniqueKey  string
}

// DefaultRetries is the retry budget of a deferred invocation.
var DefaultRetries = 2

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Queue:      "default",
		MaxRetries: DefaultRetries,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// Priority sets the invocation priority (higher = runs first).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// Retries sets the maximum retry count.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxRetries = security.ClampRetries(n)
	})
}

// Delay defers the invocation by d.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At defers the invocation until t.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Unique ensures only one active invocation carries key.
func Unique(key string) Option {
	return optionFunc(func(o *Options) {
		o.UniqueKey = key
	})
}
