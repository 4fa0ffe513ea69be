package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ripcord-io/ripcord"
	"github.com/ripcord-io/ripcord/account"
	"github.com/ripcord-io/ripcord/callback"
	"github.com/ripcord-io/ripcord/capacity"
	"github.com/ripcord-io/ripcord/config"
	"github.com/ripcord-io/ripcord/drs"
	"github.com/ripcord-io/ripcord/engine"
	"github.com/ripcord-io/ripcord/launchconfig"
	"github.com/ripcord-io/ripcord/metrics"
	"github.com/ripcord-io/ripcord/notify"
	"github.com/ripcord-io/ripcord/reconcile"
	"github.com/ripcord-io/ripcord/slogger"
	"github.com/ripcord-io/ripcord/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "ripcord",
	Short:         "Wave-by-wave disaster recovery failover orchestration",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ripcord.yaml", "Path to the orchestrator configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// runtime holds the wired component graph for one CLI invocation.
type runtime struct {
	config     *config.Config
	logger     slogger.Logger
	store      *store.Badger
	engine     *engine.Engine
	finder     *reconcile.Finder
	poller     *reconcile.Poller
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	groupStore ripcord.GroupStore
	execStore  ripcord.ExecutionStore
}

func (r *runtime) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("failed to close state store", "error", err)
		}
	}
}

// newRuntime loads configuration and wires the full component graph.
func newRuntime(withMetrics bool) (*runtime, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := slogger.New(slogger.LevelFromString(level))

	db, err := store.OpenBadger(store.BadgerOptions{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	r := &runtime{
		config:     cfg,
		logger:     logger,
		store:      db,
		groupStore: db,
		execStore:  db,
	}

	var m *metrics.Metrics
	var registry *prometheus.Registry
	if withMetrics {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}
	r.metrics = m
	r.registry = registry

	registered := make([]account.RegisteredAccount, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		registered = append(registered, account.RegisteredAccount{
			AccountID:  a.AccountID,
			ExternalID: a.ExternalID,
		})
	}
	resolver, err := account.NewResolver(account.ResolverOptions{
		Groups:        db,
		HomeAccountID: cfg.HomeAccountID,
		RolePrefix:    cfg.RolePrefix,
		Accounts:      registered,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	var identity ripcord.IdentityService
	if cfg.Identity.Endpoint != "" {
		identity, err = account.NewSTSClient(account.STSClientOptions{Endpoint: cfg.Identity.Endpoint})
		if err != nil {
			return nil, err
		}
	} else {
		identity = unconfiguredIdentity{}
	}
	assumer, err := account.NewAssumer(account.AssumerOptions{
		Identity: identity,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	factory, err := drs.NewFactory(drs.FactoryOptions{
		Endpoint:   cfg.Service.Endpoint,
		Assumer:    assumer,
		RatePerSec: cfg.Service.RatePerSec,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.UsageCacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	controller := capacity.NewController(capacity.ControllerOptions{
		Limits: cfg.ServiceLimits(),
		Cache:  capacity.NewUsageCache(ttl),
		Logger: logger,
	})

	lcResolver, err := launchconfig.NewResolver(launchconfig.ResolverOptions{
		Groups: db,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	callbacks, err := callback.NewService(callback.ServiceOptions{
		Tokens: db,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(notify.WebhookNotifierOptions{
			Endpoint: cfg.WebhookURL,
			Logger:   logger,
			OnError:  m.IncNotifyFailures,
		}))
	}

	eng, err := engine.New(engine.Options{
		Executions:    db,
		Groups:        db,
		Services:      factory,
		Resolver:      resolver,
		Capacity:      controller,
		LaunchConfigs: lcResolver,
		Callbacks:     callbacks,
		Notifier:      sinks,
		Logger:        logger,
		Metrics:       m,
		WaveTimeout:   cfg.WaveTimeout,
	})
	if err != nil {
		return nil, err
	}
	r.engine = eng

	r.finder = reconcile.NewFinder(db)
	r.poller, err = reconcile.NewPoller(reconcile.PollerOptions{
		Executions: db,
		Services:   factory,
		Engine:     eng,
		Notifier:   sinks,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// unconfiguredIdentity rejects any cross-account exchange when no identity
// endpoint is configured. Home-account executions never reach it.
type unconfiguredIdentity struct{}

func (unconfiguredIdentity) AssumeRole(ctx context.Context, roleArn, externalID, sessionName string) (*ripcord.ScopedCredentials, error) {
	return nil, ripcord.NewValidationError("no identity endpoint configured for cross-account role exchange")
}

// serveMetrics exposes the prometheus registry on addr.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger slogger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server
}
