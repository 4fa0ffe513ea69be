package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ripcord-io/ripcord/metrics"
	"github.com/ripcord-io/ripcord/slogger"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is how often the runner sweeps for in-flight executions.
const DefaultInterval = 30 * time.Second

// DefaultConcurrency bounds how many executions reconcile in parallel.
const DefaultConcurrency = 8

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Finder      *Finder
	Poller      *Poller
	Interval    time.Duration
	Concurrency int
	Logger      slogger.Logger
	Metrics     *metrics.Metrics
}

// Runner drives periodic reconciliation sweeps. Each sweep fans candidate
// executions out to a bounded pool of pollers. One failed execution never
// blocks the rest of the sweep.
type Runner struct {
	finder      *Finder
	poller      *Poller
	interval    time.Duration
	concurrency int
	logger      slogger.Logger
	metrics     *metrics.Metrics
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Finder == nil {
		return nil, fmt.Errorf("finder is required")
	}
	if opts.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	return &Runner{
		finder:      opts.Finder,
		poller:      opts.Poller,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// RunOnce performs one full sweep and returns the number of executions
// reconciled. Per-execution failures are logged and counted, not propagated,
// so a single stuck execution cannot halt reconciliation for the rest.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	ids, err := r.finder.Find(ctx)
	if err != nil {
		return 0, fmt.Errorf("finding executions to reconcile: %w", err)
	}
	r.metrics.SetActiveExecutions(len(ids))
	if len(ids) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			r.metrics.IncReconcileRuns()
			if err := r.poller.Poll(gctx, id); err != nil {
				r.metrics.IncReconcileFailures()
				r.logger.Error("reconciliation failed",
					"execution_id", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciliation runner started",
		"interval", r.interval, "concurrency", r.concurrency)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation runner stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
