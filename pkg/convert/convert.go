// Package convert provides the default token converter for command parameters.
package convert

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrInvalidToken is returned when a token cannot be parsed as the target type.
	ErrInvalidToken = errors.New("convert: invalid token")
	// ErrUnsupportedType is returned when no parser exists for the target type.
	ErrUnsupportedType = errors.New("convert: unsupported type")
)

var (
	durationType        = reflect.TypeFor[time.Duration]()
	timeType            = reflect.TypeFor[time.Time]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// ParseFunc parses a token into a value of a registered type.
type ParseFunc func(ctx context.Context, token string) (any, error)

// Registry converts tokens using registered parsers first and the built-in
// rules second. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[reflect.Type]ParseFunc
}

// New creates a Registry with no custom parsers.
func New() *Registry {
	return &Registry{parsers: make(map[reflect.Type]ParseFunc)}
}

// Register installs a parser for t, replacing any earlier one.
func (r *Registry) Register(t reflect.Type, fn ParseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[t] = fn
}

// RegisterFunc installs a typed parser for T.
func RegisterFunc[T any](r *Registry, fn func(ctx context.Context, token string) (T, error)) {
	r.Register(reflect.TypeFor[T](), func(ctx context.Context, token string) (any, error) {
		return fn(ctx, token)
	})
}

// Has reports whether t can be converted.
func (r *Registry) Has(t reflect.Type) bool {
	r.mu.RLock()
	_, ok := r.parsers[t]
	r.mu.RUnlock()
	return ok || builtin(t)
}

// Convert implements core.Converter.
func (r *Registry) Convert(ctx context.Context, t reflect.Type, token string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	fn, ok := r.parsers[t]
	r.mu.RUnlock()
	if ok {
		v, err := fn(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return v, nil
	}

	if t.Kind() == reflect.Pointer {
		elem, err := r.Convert(ctx, t.Elem(), token)
		if err != nil {
			return nil, err
		}
		ev := reflect.ValueOf(elem)
		if !ev.IsValid() || !ev.Type().AssignableTo(t.Elem()) {
			return nil, fmt.Errorf("%w: parser produced %T for %v", ErrInvalidToken, elem, t.Elem())
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(ev)
		return p.Interface(), nil
	}

	v := reflect.New(t).Elem()
	if err := parseInto(v, token); err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func parseInto(v reflect.Value, token string) error {
	t := v.Type()

	if reflect.PointerTo(t).Implements(textUnmarshalerType) && t != timeType {
		if err := v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(token)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return nil
	}

	switch t {
	case durationType:
		d, err := time.ParseDuration(token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.SetInt(int64(d))
		return nil
	case timeType:
		ts, err := time.Parse(time.RFC3339, token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.Set(reflect.ValueOf(ts))
		return nil
	}

	switch t.Kind() {
	case reflect.String:
		v.SetString(token)
	case reflect.Bool:
		b, err := strconv.ParseBool(token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(token, 10, t.Bits())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(token, 10, t.Bits())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(token, t.Bits())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedType, t)
	}
	return nil
}

func builtin(t reflect.Type) bool {
	if t == durationType || t == timeType || reflect.PointerTo(t).Implements(textUnmarshalerType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Pointer:
		return builtin(t.Elem())
	}
	return false
}
