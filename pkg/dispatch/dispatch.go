// Package dispatch resolves, binds and invokes command handlers.
package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jdziat/simple-param-commands/pkg/bind"
	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/internal/handler"
)

// DefaultHandlerName is the handler name looked up when a command does not
// implement HandlerNamer.
const DefaultHandlerName = "OnExecute"

type (
	// MethodSet is the set of handler methods a command instance declares.
	MethodSet = handler.MethodSet

	// MethodOption configures a declared handler.
	MethodOption = handler.Option
)

// Command is implemented by every command type. DeclareHandlers adds the
// instance's handler methods, usually unexported method values, to ms.
type Command interface {
	DeclareHandlers(ms *MethodSet)
}

// HandlerNamer overrides the handler name of a command.
type HandlerNamer interface {
	HandlerName() string
}

// RuntimeProvider overrides the runtime of a command variant.
type RuntimeProvider interface {
	Runtime() Runtime
}

// Default marks the parameter at index as optional with the given default.
func Default(index int, value any) MethodOption {
	return handler.Default(index, value)
}

// HandlerName returns the handler name cmd is resolved by.
func HandlerName(cmd Command) string {
	if n, ok := cmd.(HandlerNamer); ok {
		return n.HandlerName()
	}
	return DefaultHandlerName
}

// RuntimeOf returns the runtime of cmd's variant.
func RuntimeOf(cmd Command) Runtime {
	if p, ok := cmd.(RuntimeProvider); ok {
		if rt := p.Runtime(); rt != nil {
			return rt
		}
	}
	return TaskRuntime{}
}

// Describe resolves cmd's handler.
func Describe(cmd Command) (*core.HandlerDescriptor, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", core.ErrNoMatchingMethod)
	}
	return handler.Resolve(cmd, HandlerName(cmd), RuntimeOf(cmd).Kind())
}

// Execute resolves cmd's handler, binds params to it and invokes it.
// It returns nil when the handler completes, or the first error from
// resolution, binding, the handler or its completion.
func Execute(ctx context.Context, cmd Command, params *core.Parameters) error {
	desc, err := Describe(cmd)
	if err != nil {
		return err
	}

	args, err := bind.Bind(ctx, desc, params)
	if err != nil {
		return err
	}

	return Dispatch(ctx, RuntimeOf(cmd), desc, args)
}

// Dispatch invokes desc's handler with args, substituting declared defaults
// for use-default slots, and waits for the adapted completion.
func Dispatch(ctx context.Context, rt Runtime, desc *core.HandlerDescriptor, args core.BoundArguments) error {
	if len(args) != len(desc.Parameters) {
		return fmt.Errorf("commands: %d arguments bound for %d parameters", len(args), len(desc.Parameters))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if desc.HasContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, spec := range desc.Parameters {
		v, err := argumentValue(spec, args[i])
		if err != nil {
			return err
		}
		in = append(in, v)
	}

	completion, err := invoke(rt, desc.Fn, in)
	if err != nil {
		return err
	}
	return completion.Wait(ctx)
}

func invoke(rt Runtime, fn reflect.Value, in []reflect.Value) (c Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("commands: handler panic: %v", r)
		}
	}()

	out := fn.Call(in)
	if len(out) != 1 {
		return Completion{}, fmt.Errorf("commands: handler returned %d values", len(out))
	}
	return rt.Adapt(out[0].Interface()), nil
}

// argumentValue turns a bound slot into a call argument. Converted values were
// checked against the parameter type by core.Parameters.Get and defaults at
// declaration, so a mismatch here means the arguments were built by hand.
func argumentValue(spec core.ParameterSpec, arg core.Argument) (reflect.Value, error) {
	value := arg.Value
	if arg.UseDefault {
		value = spec.Default
	}

	if value == nil {
		if core.Nilable(spec.Type) {
			return reflect.Zero(spec.Type), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: parameter %d: no value for %v", core.ErrParameterParse, spec.Index, spec.Type)
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(spec.Type) {
		return v, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: parameter %d: bound %T does not fit %v", core.ErrParameterParse, spec.Index, value, spec.Type)
}
