// Package core provides the fundamental types and interfaces for the commands package.
//
// This package contains:
//   - HandlerDescriptor, ParameterSpec and BoundArguments used by dispatch
//   - Parameters, the raw token list, and the Converter contract
//   - The dispatch error taxonomy (no match, ambiguous, parse, index out of range)
//   - Invocation data model with GORM annotations and the Storage interface
//   - Event types for host monitoring
//
// Most users should import the root package github.com/jdziat/simple-param-commands
// instead of this package directly.
package core
