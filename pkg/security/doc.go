// Package security holds the limits applied to command names, queues and
// parameter tokens, and renders handler errors for storage.
//
// Host and worker call into it; the limits are re-exported as constants by
// the root package github.com/jdziat/simple-param-commands.
package security
