// Command paramcmd dispatches command lines to typed handlers.
//
// Run a command line immediately:
//
//	paramcmd give alice sword 2
//
// Defer it to a worker, then run the worker with its scheduler:
//
//	paramcmd --enqueue sleep 5s
//	paramcmd --worker --metrics-addr :9090
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/jdziat/simple-param-commands/pkg/config"
	"github.com/jdziat/simple-param-commands/pkg/core"
	"github.com/jdziat/simple-param-commands/pkg/host"
	"github.com/jdziat/simple-param-commands/pkg/metrics"
	"github.com/jdziat/simple-param-commands/pkg/schedule"
	"github.com/jdziat/simple-param-commands/pkg/storage"
	"github.com/jdziat/simple-param-commands/pkg/tokenize"
	"github.com/jdziat/simple-param-commands/pkg/worker"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitRejected = 2
)

type options struct {
	configPath  string
	database    string
	actor       string
	queue       string
	metricsAddr string
	worker      bool
	enqueue     bool
	status      bool
	retry       string
	purge       string
	purgeAge    time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("paramcmd", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	fs.StringVar(&opts.database, "database", "", "database DSN, overrides the config file")
	fs.StringVar(&opts.actor, "actor", "", "actor recorded on invocations")
	fs.StringVarP(&opts.queue, "queue", "q", "default", "queue for --enqueue")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address in worker mode")
	fs.BoolVar(&opts.worker, "worker", false, "run the worker and scheduler until interrupted")
	fs.BoolVar(&opts.enqueue, "enqueue", false, "defer the command line to a worker instead of running it")
	fs.BoolVar(&opts.status, "status", false, "print stored invocation counts")
	fs.StringVar(&opts.retry, "retry", "", "requeue the failed invocation with this ID")
	fs.StringVar(&opts.purge, "purge", "", "delete stored invocations in this status (completed or failed)")
	fs.DurationVar(&opts.purgeAge, "purge-older-than", 0, "with --purge, keep invocations newer than this")
	fs.SetInterspersed(false)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitRejected
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if opts.database != "" {
		cfg.Database.DSN = opts.database
	}
	logger := cfg.NewLogger(stderr)

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger,
		storage.ForWorkers(len(cfg.Worker.Queues)*cfg.Worker.Concurrency))
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return exitError
	}
	defer func() { _ = store.Close() }()

	h := host.New(store, host.WithLogger(logger))
	registerDemo(h, stdout)

	if opts.actor != "" {
		ctx = host.WithActor(ctx, opts.actor)
	}

	switch {
	case opts.status:
		return printStatus(ctx, store, stdout, stderr)
	case opts.retry != "":
		return retryInvocation(ctx, store, opts.retry, stdout, stderr)
	case opts.purge != "":
		return purge(ctx, store, opts, stdout, stderr)
	case opts.worker:
		return runWorker(ctx, h, cfg, opts, logger)
	}

	line := fs.Args()
	if len(line) == 0 {
		line = []string{"help"}
	}
	name, tokens := line[0], line[1:]

	if opts.enqueue {
		id, err := h.Enqueue(ctx, name, tokens, host.QueueOpt(opts.queue))
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		fmt.Fprintln(stdout, id)
		return exitOK
	}

	if err := h.Execute(ctx, name, tokens...); err != nil {
		fmt.Fprintln(stderr, err)
		if errors.Is(err, core.ErrUnknownCommand) {
			fmt.Fprintln(stderr, "run 'paramcmd help' for the list of commands")
			return exitRejected
		}
		if core.IsDispatchError(err) {
			if usage, uerr := h.Usage(name); uerr == nil {
				fmt.Fprintln(stderr, "usage:", usage)
			}
			return exitRejected
		}
		return exitError
	}
	return exitOK
}

func runWorker(ctx context.Context, h *host.Host, cfg *config.Config, opts options, logger *slog.Logger) int {
	for _, sc := range cfg.Schedules {
		if err := addSchedule(h, sc); err != nil {
			logger.Error("invalid schedule", "line", sc.Line, "error", err)
			return exitError
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	detach := m.Attach(h)
	defer detach()
	if gs, ok := h.Storage().(*storage.GormStorage); ok {
		reg.MustRegister(metrics.NewStatusCollector(gs))
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", opts.metricsAddr)
	}

	w := worker.NewWorker(h, workerOptions(cfg, logger)...)
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
		return exitError
	}
	return exitOK
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func workerOptions(cfg *config.Config, logger *slog.Logger) []worker.WorkerOption {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	opts := []worker.WorkerOption{worker.WithScheduler(true), worker.WithLogger(logger)}
	for _, q := range cfg.Worker.Queues {
		opts = append(opts, worker.WorkerQueue(q))
	}
	opts = append(opts, worker.Concurrency(concurrency))
	// Validated by config.Load.
	if d, _ := cfg.PollInterval(); d > 0 {
		opts = append(opts, worker.PollInterval(d))
	}
	if d, _ := cfg.StaleLockAge(); d > 0 {
		opts = append(opts, worker.StaleLockAge(d))
	}
	return opts
}

func addSchedule(h *host.Host, sc config.Schedule) error {
	sched, err := schedule.ParseSpec(sc.Spec)
	if err != nil {
		return err
	}
	name, tokens, err := tokenize.Command(sc.Line)
	if err != nil {
		return err
	}
	var opts []host.Option
	if sc.Queue != "" {
		opts = append(opts, host.QueueOpt(sc.Queue))
	}
	if sc.Unique {
		opts = append(opts, host.Unique(tokenize.Join(append([]string{name}, tokens...))))
	}
	return h.Schedule(name, sched, tokens, opts...)
}

func printStatus(ctx context.Context, store *storage.GormStorage, stdout, stderr io.Writer) int {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	for _, c := range counts {
		fmt.Fprintf(stdout, "%-20s %-10s %d\n", c.Command, c.Status, c.Count)
	}
	return exitOK
}

func retryInvocation(ctx context.Context, store *storage.GormStorage, id string, stdout, stderr io.Writer) int {
	inv, err := store.RetryInvocation(ctx, id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	fmt.Fprintln(stdout, "requeued", inv.Command, inv.ID)
	return exitOK
}

func purge(ctx context.Context, store *storage.GormStorage, opts options, stdout, stderr io.Writer) int {
	var cutoff time.Time
	if opts.purgeAge > 0 {
		cutoff = time.Now().Add(-opts.purgeAge)
	}
	n, err := store.PurgeInvocations(ctx, core.InvocationStatus(strings.ToLower(opts.purge)), cutoff)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	fmt.Fprintf(stdout, "purged %d invocations\n", n)
	return exitOK
}
