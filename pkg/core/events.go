package core

import "time"

// Event is the interface for all host events.
type Event interface {
	eventMarker()
}

// InvocationStarted is emitted when a command invocation starts dispatching.
type InvocationStarted struct {
	Invocation *Invocation
	Timestamp  time.Time
}

func (*InvocationStarted) eventMarker() {}

// InvocationCompleted is emitted when a command handler completes.
type InvocationCompleted struct {
	Invocation *Invocation
	Duration   time.Duration
	Timestamp  time.Time
}

func (*InvocationCompleted) eventMarker() {}

// InvocationFailed is emitted when a command invocation fails permanently.
type InvocationFailed struct {
	Invocation *Invocation
	Error      error
	Duration   time.Duration
	Timestamp  time.Time
}

func (*InvocationFailed) eventMarker() {}

// InvocationRetrying is emitted when a deferred invocation is retried.
type InvocationRetrying struct {
	Invocation *Invocation
	Attempt    int
	Error      error
	NextRunAt  time.Time
	Timestamp  time.Time
}

func (*InvocationRetrying) eventMarker() {}

// InvocationEnqueued is emitted when a deferred invocation is stored.
type InvocationEnqueued struct {
	Invocation *Invocation
	Timestamp  time.Time
}

func (*InvocationEnqueued) eventMarker() {}
