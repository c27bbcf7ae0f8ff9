// Package handler provides handler declaration and resolution.
//
// This package is internal and should not be imported directly.
// It provides:
//   - MethodSet: the handler methods a command instance declares
//   - Default: optional parameters with declared default values
//   - Resolve: name-only lookup followed by return-kind and generic checks
package handler
