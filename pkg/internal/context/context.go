// Package context provides context helpers for the commands package.
package context

import (
	"context"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// InvocationContextKey is the key for storing invocation context in context.Context.
type InvocationContextKey struct{}

// InvocationContext holds the invocation being dispatched.
type InvocationContext struct {
	Invocation *core.Invocation
	Storage    core.Storage
	// WorkerID is set when a worker dispatches a deferred invocation.
	WorkerID string
}

// GetInvocationContext retrieves the invocation context from a context.Context.
func GetInvocationContext(ctx context.Context) *InvocationContext {
	if ic, ok := ctx.Value(InvocationContextKey{}).(*InvocationContext); ok {
		return ic
	}
	return nil
}

// WithInvocationContext adds invocation context to a context.Context.
func WithInvocationContext(ctx context.Context, ic *InvocationContext) context.Context {
	return context.WithValue(ctx, InvocationContextKey{}, ic)
}

// ActorKey is the key for storing the acting principal in context.Context.
type ActorKey struct{}

// GetActor returns the actor set on ctx, or "".
func GetActor(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey{}).(string)
	return actor
}

// WithActor records who is issuing commands on ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey{}, actor)
}
