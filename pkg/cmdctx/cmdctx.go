// Package cmdctx provides public access to invocation context for handlers.
package cmdctx

import (
	"context"

	"github.com/jdziat/simple-param-commands/pkg/core"
	intctx "github.com/jdziat/simple-param-commands/pkg/internal/context"
)

// InvocationFromContext returns the invocation being dispatched, or nil when
// ctx does not belong to a host dispatch.
func InvocationFromContext(ctx context.Context) *core.Invocation {
	ic := intctx.GetInvocationContext(ctx)
	if ic == nil {
		return nil
	}
	return ic.Invocation
}

// InvocationIDFromContext returns the current invocation ID, or "".
func InvocationIDFromContext(ctx context.Context) string {
	inv := InvocationFromContext(ctx)
	if inv == nil {
		return ""
	}
	return inv.ID
}

// ActorFromContext returns who issued the current command, or "".
func ActorFromContext(ctx context.Context) string {
	if inv := InvocationFromContext(ctx); inv != nil && inv.Actor != "" {
		return inv.Actor
	}
	return intctx.GetActor(ctx)
}

// AttemptFromContext returns the attempt number of a deferred invocation.
// Immediate dispatches report 0.
func AttemptFromContext(ctx context.Context) int {
	inv := InvocationFromContext(ctx)
	if inv == nil {
		return 0
	}
	return inv.Attempt
}

// IsDeferred reports whether the current dispatch is run by a worker.
func IsDeferred(ctx context.Context) bool {
	ic := intctx.GetInvocationContext(ctx)
	return ic != nil && ic.WorkerID != ""
}
