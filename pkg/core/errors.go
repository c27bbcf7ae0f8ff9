package core

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Dispatch errors. These are terminal for a dispatch and are never retried.
var (
	ErrNoMatchingMethod = errors.New("commands: no suitable handler method found")
	ErrAmbiguousMatch   = errors.New("commands: ambiguous handler match")
	ErrParameterParse   = errors.New("commands: parameter could not be parsed")
	ErrIndexOutOfRange  = errors.New("commands: parameter index out of range")
)

// ErrNoConverter is reported when a parameter list has no converter.
var ErrNoConverter = errors.New("commands: no value converter configured")

// Validation errors
var (
	ErrInvalidCommandName  = errors.New("commands: invalid command name (must be alphanumeric, start with letter)")
	ErrCommandNameTooLong  = errors.New("commands: command name too long")
	ErrUnknownCommand      = errors.New("commands: no command registered")
	ErrEmptyCommandLine    = errors.New("commands: empty command line")
	ErrTooManyTokens       = errors.New("commands: too many parameters")
	ErrTokenTooLong        = errors.New("commands: parameter exceeds size limit")
	ErrInvalidQueueName    = errors.New("commands: invalid queue name")
	ErrQueueNameTooLong    = errors.New("commands: queue name too long")
	ErrInvocationNotOwned  = errors.New("commands: invocation not owned by this worker")
	ErrDuplicateInvocation = errors.New("commands: duplicate invocation with same unique key")
	ErrUniqueKeyTooLong    = errors.New("commands: unique key exceeds maximum length")
	ErrNoStorage           = errors.New("commands: no storage configured")
)

// ParameterParseError reports a token that the converter rejected for the
// declared parameter type.
type ParameterParseError struct {
	Index int
	Type  reflect.Type
	Token string
	Err   error
}

func (e *ParameterParseError) Error() string {
	return fmt.Sprintf("commands: parameter %d: cannot parse %q as %v: %v", e.Index, e.Token, e.Type, e.Err)
}

func (e *ParameterParseError) Unwrap() error {
	return e.Err
}

func (e *ParameterParseError) Is(target error) bool {
	return target == ErrParameterParse
}

// IndexOutOfRangeError reports a required parameter without a supplied token.
type IndexOutOfRangeError struct {
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("commands: parameter index %d out of range (%d supplied)", e.Index, e.Length)
}

func (e *IndexOutOfRangeError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// IsDispatchError reports whether err belongs to the dispatch error taxonomy.
func IsDispatchError(err error) bool {
	return errors.Is(err, ErrNoMatchingMethod) ||
		errors.Is(err, ErrAmbiguousMatch) ||
		errors.Is(err, ErrParameterParse) ||
		errors.Is(err, ErrIndexOutOfRange)
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
