// Package handler provides handler declaration and resolution for the commands package.
package handler

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
	chanType    = reflect.TypeFor[<-chan error]()
)

// Declarer is implemented by command types. DeclareHandlers adds the
// instance's handler methods to ms.
type Declarer interface {
	DeclareHandlers(ms *MethodSet)
}

// Method holds one declared handler.
type Method struct {
	Name       string
	Fn         reflect.Value
	HasContext bool
	defaults   map[int]reflect.Value
}

// Option configures a declared handler.
type Option interface {
	applyMethod(m *Method)
}

type optionFunc func(*Method)

func (f optionFunc) applyMethod(m *Method) { f(m) }

// Default marks the parameter at index as optional with the given default.
// index counts bindable parameters only; a leading context.Context is not counted.
func Default(index int, value any) Option {
	return optionFunc(func(m *Method) {
		params := m.paramTypes()
		if index < 0 || index >= len(params) {
			panic(fmt.Sprintf("commands: %s: default index %d out of range (%d parameters)", m.Name, index, len(params)))
		}
		v, err := defaultValue(params[index], value)
		if err != nil {
			panic(fmt.Sprintf("commands: %s: parameter %d: %v", m.Name, index, err))
		}
		m.defaults[index] = v
	})
}

// MethodSet is the set of handler methods declared by one command instance.
// Declarations are kept in order and names are not deduplicated.
type MethodSet struct {
	methods []*Method
}

// Add declares fn under name. fn is usually a method value bound to the
// command instance. Add panics on programmer errors (nil or non-function
// values, variadic functions, bad defaults).
func (ms *MethodSet) Add(name string, fn any, opts ...Option) {
	if fn == nil {
		panic(fmt.Sprintf("commands: handler %q cannot be nil", name))
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		panic(fmt.Sprintf("commands: handler %q must be a function", name))
	}
	if fnVal.IsNil() {
		panic(fmt.Sprintf("commands: handler %q function cannot be nil", name))
	}

	fnType := fnVal.Type()
	if fnType.IsVariadic() {
		panic(fmt.Sprintf("commands: handler %q cannot be variadic", name))
	}

	m := &Method{
		Name:       name,
		Fn:         fnVal,
		HasContext: fnType.NumIn() > 0 && fnType.In(0) == contextType,
		defaults:   make(map[int]reflect.Value),
	}
	for _, opt := range opts {
		opt.applyMethod(m)
	}

	ms.methods = append(ms.methods, m)
}

// Lookup returns every declaration whose name equals name exactly.
func (ms *MethodSet) Lookup(name string) []*Method {
	var out []*Method
	for _, m := range ms.methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of declarations.
func (ms *MethodSet) Len() int {
	return len(ms.methods)
}

// Collect builds a fresh MethodSet from d.
func Collect(d Declarer) *MethodSet {
	ms := &MethodSet{}
	d.DeclareHandlers(ms)
	return ms
}

// ReturnKindOf classifies a function type by its results.
func ReturnKindOf(fnType reflect.Type) core.ReturnKind {
	if fnType.NumOut() != 1 {
		return core.ReturnOther
	}
	switch fnType.Out(0) {
	case errorType:
		return core.ReturnPlain
	case chanType:
		return core.ReturnSpecialized
	default:
		return core.ReturnOther
	}
}

// Resolve locates the single handler called name on instance and describes it.
//
// Lookup is by name only. Zero matches fail with core.ErrNoMatchingMethod and
// two or more fail with core.ErrAmbiguousMatch before any shape check runs.
// A single match must return the expected kind and must not be generic,
// otherwise it also fails with core.ErrNoMatchingMethod.
func Resolve(instance Declarer, name string, expected core.ReturnKind) (*core.HandlerDescriptor, error) {
	if instance == nil {
		return nil, fmt.Errorf("%w: nil command", core.ErrNoMatchingMethod)
	}

	typeName := reflect.TypeOf(instance).String()
	matches := Collect(instance).Lookup(name)

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s declares no %s method", core.ErrNoMatchingMethod, typeName, name)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s declares %d %s methods", core.ErrAmbiguousMatch, typeName, len(matches), name)
	}

	desc := matches[0].describe(expected)
	if desc.ReturnKind != expected || desc.IsGeneric {
		return nil, fmt.Errorf("%w: %s.%s must return %s and take concrete parameter types",
			core.ErrNoMatchingMethod, typeName, name, expected)
	}
	return desc, nil
}

func (m *Method) paramTypes() []reflect.Type {
	fnType := m.Fn.Type()
	start := 0
	if m.HasContext {
		start = 1
	}
	types := make([]reflect.Type, 0, fnType.NumIn()-start)
	for i := start; i < fnType.NumIn(); i++ {
		types = append(types, fnType.In(i))
	}
	return types
}

func (m *Method) describe(expected core.ReturnKind) *core.HandlerDescriptor {
	desc := &core.HandlerDescriptor{
		Name:               m.Name,
		ExpectedReturnKind: expected,
		ReturnKind:         ReturnKindOf(m.Fn.Type()),
		HasContext:         m.HasContext,
		Fn:                 m.Fn,
	}

	for i, t := range m.paramTypes() {
		spec := core.ParameterSpec{Index: i, Type: t}
		if dv, ok := m.defaults[i]; ok {
			spec.HasDefault = true
			spec.Default = dv.Interface()
		}
		// An open interface parameter has no concrete type to convert into.
		if t.Kind() == reflect.Interface {
			desc.IsGeneric = true
		}
		desc.Parameters = append(desc.Parameters, spec)
	}

	return desc
}

func defaultValue(t reflect.Type, value any) (reflect.Value, error) {
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil default for %v", t)
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		return v.Convert(t), nil
	}
	if isNumeric(v.Kind()) && isNumeric(t.Kind()) {
		return v.Convert(t), nil
	}
	if v.Kind() == t.Kind() && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("default %v (%T) is not assignable to %v", value, value, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
