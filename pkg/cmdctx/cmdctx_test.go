package cmdctx

import (
	"context"
	"testing"

	"github.com/jdziat/simple-param-commands/pkg/core"
	intctx "github.com/jdziat/simple-param-commands/pkg/internal/context"
)

func TestInvocationFromContext(t *testing.T) {
	t.Run("returns invocation when set in context", func(t *testing.T) {
		// Arrange
		inv := &core.Invocation{ID: "inv-1", Command: "give", Attempt: 2}
		ctx := intctx.WithInvocationContext(context.Background(), &intctx.InvocationContext{Invocation: inv})

		// Act
		result := InvocationFromContext(ctx)

		// Assert
		if result == nil {
			t.Fatal("expected invocation, got nil")
		}
		if result.Command != "give" {
			t.Errorf("expected command %q, got %q", "give", result.Command)
		}
		if got := InvocationIDFromContext(ctx); got != "inv-1" {
			t.Errorf("expected ID %q, got %q", "inv-1", got)
		}
		if got := AttemptFromContext(ctx); got != 2 {
			t.Errorf("expected attempt 2, got %d", got)
		}
	})

	t.Run("returns zero values outside a dispatch", func(t *testing.T) {
		ctx := context.Background()

		if InvocationFromContext(ctx) != nil {
			t.Error("expected nil invocation")
		}
		if InvocationIDFromContext(ctx) != "" {
			t.Error("expected empty ID")
		}
		if AttemptFromContext(ctx) != 0 {
			t.Error("expected attempt 0")
		}
		if IsDeferred(ctx) {
			t.Error("expected immediate dispatch")
		}
	})

	t.Run("returns nil when invocation context has no invocation", func(t *testing.T) {
		ctx := intctx.WithInvocationContext(context.Background(), &intctx.InvocationContext{})
		if InvocationFromContext(ctx) != nil {
			t.Error("expected nil invocation")
		}
	})
}

func TestActorFromContext(t *testing.T) {
	t.Run("prefers the invocation actor", func(t *testing.T) {
		ctx := intctx.WithActor(context.Background(), "console")
		ctx = intctx.WithInvocationContext(ctx, &intctx.InvocationContext{
			Invocation: &core.Invocation{Actor: "alice"},
		})

		if got := ActorFromContext(ctx); got != "alice" {
			t.Errorf("expected actor %q, got %q", "alice", got)
		}
	})

	t.Run("falls back to the context actor", func(t *testing.T) {
		ctx := intctx.WithActor(context.Background(), "console")
		if got := ActorFromContext(ctx); got != "console" {
			t.Errorf("expected actor %q, got %q", "console", got)
		}
	})
}

func TestIsDeferred(t *testing.T) {
	ctx := intctx.WithInvocationContext(context.Background(), &intctx.InvocationContext{
		Invocation: &core.Invocation{ID: "x"},
		WorkerID:   "worker-1",
	})
	if !IsDeferred(ctx) {
		t.Error("expected deferred dispatch")
	}
}
