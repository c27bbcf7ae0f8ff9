// Package context provides internal context helpers for the commands package.
//
// This package manages:
//   - InvocationContext: the invocation being dispatched and the worker running it
//   - Actor: the principal issuing commands, recorded on every invocation
//
// This is an internal package and should not be imported directly by users.
package context
