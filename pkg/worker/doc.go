// Package worker provides the Worker type for deferred command dispatch.
//
// A Worker polls storage for pending invocations, dispatches them through a
// host.Host and records the outcome. Dispatch errors (no matching handler,
// ambiguous handler, unparseable or missing parameters) are permanent and
// never retried; other handler errors are retried with exponential backoff
// up to the invocation's retry budget. The optional scheduler enqueues
// command lines registered with Host.Schedule.
package worker
