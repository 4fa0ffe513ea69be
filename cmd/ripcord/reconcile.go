package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ripcord-io/ripcord/config"
	"github.com/ripcord-io/ripcord/reconcile"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	reconcileOnce        bool
	reconcileInterval    time.Duration
	reconcileConcurrency int
	reconcileMetricsAddr string
	reconcilePlanPattern string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run the reconciliation loop that converges executions with the recovery service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(true)
		if err != nil {
			return err
		}
		defer rt.Close()

		interval := reconcileInterval
		if interval == 0 {
			interval = rt.config.Reconcile.Interval
		}
		concurrency := reconcileConcurrency
		if concurrency == 0 {
			concurrency = rt.config.Reconcile.Concurrency
		}
		runner, err := reconcile.NewRunner(reconcile.RunnerOptions{
			Finder:      rt.finder,
			Poller:      rt.poller,
			Interval:    interval,
			Concurrency: concurrency,
			Logger:      rt.logger,
			Metrics:     rt.metrics,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if reconcileOnce {
			count, err := runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("reconciled %d executions\n", count)
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		if reconcileMetricsAddr != "" {
			serveMetrics(gctx, reconcileMetricsAddr, rt.registry, rt.logger)
		}
		if reconcilePlanPattern != "" {
			watcher, err := config.NewPlanWatcher(config.PlanWatcherOptions{
				Pattern: reconcilePlanPattern,
				Logger:  rt.logger,
			})
			if err != nil {
				return err
			}
			g.Go(func() error {
				return watcher.Watch(gctx)
			})
		}
		g.Go(func() error {
			return runner.Run(gctx)
		})

		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "Run a single reconciliation sweep and exit")
	reconcileCmd.Flags().DurationVar(&reconcileInterval, "interval", 0, "Sweep interval (default from config, then 30s)")
	reconcileCmd.Flags().IntVar(&reconcileConcurrency, "concurrency", 0, "Executions reconciled in parallel (default from config, then 8)")
	reconcileCmd.Flags().StringVar(&reconcileMetricsAddr, "metrics-addr", "", "Expose prometheus metrics on this address (e.g. :9090)")
	reconcileCmd.Flags().StringVar(&reconcilePlanPattern, "plans", "", "Doublestar pattern of plan files to hot-reload (e.g. plans/**/*.yaml)")
	rootCmd.AddCommand(reconcileCmd)
}
