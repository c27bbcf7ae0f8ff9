package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// ErrNilCompletion is returned when a specialized handler returns a nil channel.
var ErrNilCompletion = errors.New("commands: handler returned a nil completion")

// Completion is the common deferred result every runtime adapts into.
type Completion struct {
	ch  <-chan error
	err error
}

// Completed returns a completion that is already finished with err.
func Completed(err error) Completion {
	return Completion{err: err}
}

// Pending returns a completion that finishes when ch yields a value or is closed.
func Pending(ch <-chan error) Completion {
	if ch == nil {
		return Completion{err: ErrNilCompletion}
	}
	return Completion{ch: ch}
}

// Wait blocks until the completion finishes or ctx is done.
func (c Completion) Wait(ctx context.Context) error {
	if c.ch == nil {
		return c.err
	}
	select {
	case err, ok := <-c.ch:
		if !ok {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runtime adapts the result of one command variant's handlers.
type Runtime interface {
	// Kind is the return kind handlers of this variant must declare.
	Kind() core.ReturnKind
	// Adapt converts a handler's single result into a Completion.
	Adapt(result any) Completion
}

// TaskRuntime is the default runtime: handlers return error.
type TaskRuntime struct{}

// Kind implements Runtime.
func (TaskRuntime) Kind() core.ReturnKind { return core.ReturnPlain }

// Adapt implements Runtime.
func (TaskRuntime) Adapt(result any) Completion {
	err, _ := result.(error)
	return Completed(err)
}

// ChanRuntime runs handlers that return <-chan error.
type ChanRuntime struct{}

// Kind implements Runtime.
func (ChanRuntime) Kind() core.ReturnKind { return core.ReturnSpecialized }

// Adapt implements Runtime.
func (ChanRuntime) Adapt(result any) Completion {
	ch, _ := result.(<-chan error)
	return Pending(ch)
}

// ChanCommand can be embedded by commands whose handlers return <-chan error.
type ChanCommand struct{}

// Runtime returns ChanRuntime.
func (ChanCommand) Runtime() Runtime { return ChanRuntime{} }

// Go runs fn on a new goroutine and returns a channel carrying its result,
// the usual body of a specialized handler. A panic in fn is delivered as an
// error.
func Go(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("commands: handler panic: %v", r)
			}
		}()
		ch <- fn()
	}()
	return ch
}
