package host

import (
	"context"

	"github.com/jdziat/simple-param-commands/pkg/core"
)

// OnStart registers a callback run before a handler is invoked.
func (h *Host) OnStart(fn func(context.Context, *core.Invocation)) {
	h.mu.Lock()
	h.onStart = append(h.onStart, fn)
	h.mu.Unlock()
}

// OnComplete registers a callback for invocations that complete.
func (h *Host) OnComplete(fn func(context.Context, *core.Invocation)) {
	h.mu.Lock()
	h.onComplete = append(h.onComplete, fn)
	h.mu.Unlock()
}

// OnFail registers a callback for invocations that fail permanently.
func (h *Host) OnFail(fn func(context.Context, *core.Invocation, error)) {
	h.mu.Lock()
	h.onFail = append(h.onFail, fn)
	h.mu.Unlock()
}

// OnRetry registers a callback for deferred invocations scheduled for retry.
func (h *Host) OnRetry(fn func(context.Context, *core.Invocation, int, error)) {
	h.mu.Lock()
	h.onRetry = append(h.onRetry, fn)
	h.mu.Unlock()
}

// Events returns a channel receiving host events.
// The caller must call Unsubscribe when done.
func (h *Host) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	h.mu.Lock()
	h.eventSubs = append(h.eventSubs, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Events. The channel is not
// closed; no further events are sent to it once Unsubscribe returns.
func (h *Host) Unsubscribe(ch <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.eventSubs {
		if sub == ch {
			h.eventSubs = append(h.eventSubs[:i], h.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit sends e to every subscriber. Full subscriber buffers drop the event.
func (h *Host) Emit(e core.Event) {
	h.mu.RLock()
	subs := make([]chan core.Event, len(h.eventSubs))
	copy(subs, h.eventSubs)
	h.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (h *Host) CallStartHooks(ctx context.Context, inv *core.Invocation) {
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.Invocation){}, h.onStart...)
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, inv)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (h *Host) CallCompleteHooks(ctx context.Context, inv *core.Invocation) {
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.Invocation){}, h.onComplete...)
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, inv)
	}
}

// CallFailHooks calls all registered fail hooks.
func (h *Host) CallFailHooks(ctx context.Context, inv *core.Invocation, err error) {
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.Invocation, error){}, h.onFail...)
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, inv, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (h *Host) CallRetryHooks(ctx context.Context, inv *core.Invocation, attempt int, err error) {
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.Invocation, int, error){}, h.onRetry...)
	h.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, inv, attempt, err)
	}
}
