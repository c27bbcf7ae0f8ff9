// Package host provides the Host type, the registry that turns command names
// and raw tokens into handler dispatches.
//
// This package includes:
//   - Host: command registration, immediate and deferred dispatch
//   - Option: configuration for deferred invocations
//   - Hook registration and event subscription for invocation lifecycles
//   - Usage and catalog output built from handler descriptors
//
// Most users should import the root package github.com/jdziat/simple-param-commands
// which re-exports Host and all option functions.
package host
