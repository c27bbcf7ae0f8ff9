package core

import (
	"reflect"
)

// ReturnKind classifies what a handler returns.
type ReturnKind int

const (
	// ReturnOther is any result shape that no command variant accepts.
	ReturnOther ReturnKind = iota
	// ReturnPlain handlers return error, consumed as an already completed result.
	ReturnPlain
	// ReturnSpecialized handlers return <-chan error, a deferred result that
	// must be converted before it is awaited.
	ReturnSpecialized
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnPlain:
		return "plain"
	case ReturnSpecialized:
		return "specialized"
	default:
		return "other"
	}
}

// ParameterSpec describes one bindable handler parameter.
type ParameterSpec struct {
	Index      int
	Type       reflect.Type
	HasDefault bool
	Default    any
}

// HandlerDescriptor is the resolved handler of a command instance.
// It is rebuilt for every dispatch.
type HandlerDescriptor struct {
	Name               string
	ExpectedReturnKind ReturnKind
	ReturnKind         ReturnKind
	IsGeneric          bool
	HasContext         bool
	Parameters         []ParameterSpec
	Fn                 reflect.Value
}

// Arity returns the number of bindable parameters.
func (d *HandlerDescriptor) Arity() int {
	return len(d.Parameters)
}

// Required returns the number of parameters without a declared default.
func (d *HandlerDescriptor) Required() int {
	n := 0
	for _, p := range d.Parameters {
		if !p.HasDefault {
			n++
		}
	}
	return n
}

// Argument is one bound argument slot: a converted value, or a marker asking
// the invocation to substitute the parameter's declared default.
type Argument struct {
	Value      any
	UseDefault bool
}

// Converted returns an argument holding v.
func Converted(v any) Argument {
	return Argument{Value: v}
}

// UseDefault returns the "use declared default" marker.
func UseDefault() Argument {
	return Argument{UseDefault: true}
}

// BoundArguments holds one Argument per ParameterSpec, positionally aligned.
type BoundArguments []Argument
