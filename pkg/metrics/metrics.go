// Package metrics exports command dispatch metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/host"
	"github.com/jdziat/simple-param-commands/pkg/storage"
)

// Dispatch outcomes.
const (
	OutcomeCompleted        = "completed"
	OutcomeNoMatchingMethod = "no_matching_method"
	OutcomeAmbiguousMatch   = "ambiguous_match"
	OutcomeParameterParse   = "parameter_parse"
	OutcomeIndexOutOfRange  = "index_out_of_range"
	OutcomeFailed           = "failed"
)

// Outcome classifies a dispatch result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, core.ErrNoMatchingMethod):
		return OutcomeNoMatchingMethod
	case errors.Is(err, core.ErrAmbiguousMatch):
		return OutcomeAmbiguousMatch
	case errors.Is(err, core.ErrParameterParse):
		return OutcomeParameterParse
	case errors.Is(err, core.ErrIndexOutOfRange):
		return OutcomeIndexOutOfRange
	default:
		return OutcomeFailed
	}
}

// Metrics holds the dispatch collectors.
type Metrics struct {
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	enqueued   *prometheus.CounterVec
}

// New creates the dispatch collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paramcmd_dispatch_total",
			Help: "Finished command dispatches by outcome.",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paramcmd_dispatch_duration_seconds",
			Help:    "Time from handler start to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paramcmd_dispatch_retries_total",
			Help: "Deferred invocations rescheduled after a handler error.",
		}, []string{"command"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paramcmd_enqueued_total",
			Help: "Deferred invocations enqueued.",
		}, []string{"command", "queue"}),
	}
	reg.MustRegister(m.dispatched, m.duration, m.retries, m.enqueued)
	return m
}

// Observe records one host event.
func (m *Metrics) Observe(e core.Event) {
	switch ev := e.(type) {
	case *core.InvocationCompleted:
		m.finished(ev.Invocation.Command, nil, ev.Duration)
	case *core.InvocationFailed:
		m.finished(ev.Invocation.Command, ev.Error, ev.Duration)
	case *core.InvocationRetrying:
		m.retries.WithLabelValues(ev.Invocation.Command).Inc()
	case *core.InvocationEnqueued:
		m.enqueued.WithLabelValues(ev.Invocation.Command, ev.Invocation.Queue).Inc()
	}
}

func (m *Metrics) finished(command string, err error, d time.Duration) {
	m.dispatched.WithLabelValues(command, Outcome(err)).Inc()
	m.duration.WithLabelValues(command).Observe(d.Seconds())
}

// Attach observes h's events until the returned detach function is called.
// Events dropped by a full subscription buffer are not counted.
func (m *Metrics) Attach(h *host.Host) (detach func()) {
	events := h.Events()
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case e := <-events:
				m.Observe(e)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.Unsubscribe(events)
			close(done)
			<-stopped
		})
	}
}

// StatusCounter reports stored invocation counts.
type StatusCounter interface {
	CountByStatus(ctx context.Context) ([]storage.StatusCount, error)
}

// StatusCollector exposes stored invocation counts as a gauge.
type StatusCollector struct {
	counter StatusCounter
	timeout time.Duration
	desc    *prometheus.Desc
}

// NewStatusCollector creates a collector querying counter on every scrape.
func NewStatusCollector(counter StatusCounter) *StatusCollector {
	return &StatusCollector{
		counter: counter,
		timeout: 5 * time.Second,
		desc: prometheus.NewDesc(
			"paramcmd_invocations",
			"Stored invocations by command and status.",
			[]string{"command", "status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.counter.CountByStatus(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for _, sc := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(sc.Count), sc.Command, string(sc.Status))
	}
}
