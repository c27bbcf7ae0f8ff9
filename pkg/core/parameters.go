package core

import (
	"context"
	"fmt"
	"reflect"
)

// Converter turns a raw token into a value of the target type.
// It returns an error when the token cannot be converted.
type Converter interface {
	Convert(ctx context.Context, t reflect.Type, token string) (any, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, t reflect.Type, token string) (any, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(ctx context.Context, t reflect.Type, token string) (any, error) {
	return f(ctx, t, token)
}

// Parameters is the ordered list of raw tokens supplied for one invocation,
// together with the converter used to type them.
type Parameters struct {
	tokens    []string
	converter Converter
}

// NewParameters creates a parameter list. The tokens are copied.
func NewParameters(tokens []string, converter Converter) *Parameters {
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	return &Parameters{tokens: cp, converter: converter}
}

// Len returns the number of supplied tokens.
func (p *Parameters) Len() int {
	return len(p.tokens)
}

// Tokens returns a copy of the raw tokens.
func (p *Parameters) Tokens() []string {
	cp := make([]string, len(p.tokens))
	copy(cp, p.tokens)
	return cp
}

// Get converts the token at index to t. A missing token yields an
// *IndexOutOfRangeError; a rejected token, or a converter result that does
// not fit t, yields a *ParameterParseError. The returned value is of type t,
// or nil for a nilable t.
func (p *Parameters) Get(ctx context.Context, index int, t reflect.Type) (any, error) {
	if index < 0 || index >= len(p.tokens) {
		return nil, &IndexOutOfRangeError{Index: index, Length: len(p.tokens)}
	}

	token := p.tokens[index]
	if p.converter == nil {
		return nil, &ParameterParseError{Index: index, Type: t, Token: token, Err: ErrNoConverter}
	}

	v, err := p.convert(ctx, t, token)
	if err == nil {
		v, err = conform(t, v)
	}
	if err != nil {
		return nil, &ParameterParseError{Index: index, Type: t, Token: token, Err: err}
	}
	return v, nil
}

func (p *Parameters) convert(ctx context.Context, t reflect.Type, token string) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("converter panic: %v", r)
		}
	}()
	return p.converter.Convert(ctx, t, token)
}

// conform checks that a converter result fits t, converting between types of
// the same kind.
func conform(t reflect.Type, value any) (any, error) {
	if value == nil {
		if Nilable(t) {
			return nil, nil
		}
		return nil, fmt.Errorf("converter produced nil")
	}

	v := reflect.ValueOf(value)
	if v.Type() == t {
		return value, nil
	}
	if v.Type().AssignableTo(t) || (v.Kind() == t.Kind() && v.Type().ConvertibleTo(t)) {
		return v.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("converter produced %T", value)
}

// Nilable reports whether nil is a valid value of t.
func Nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
