package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stratahq/strata/internal/audit"
	"github.com/stratahq/strata/internal/blast"
	"github.com/stratahq/strata/internal/config"
	"github.com/stratahq/strata/internal/demo"
	"github.com/stratahq/strata/internal/executor"
	"github.com/stratahq/strata/internal/index"
	"github.com/stratahq/strata/internal/lifecycle"
	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/match"
	"github.com/stratahq/strata/internal/merge"
	"github.com/stratahq/strata/internal/metrics"
	"github.com/stratahq/strata/internal/queue"
	"github.com/stratahq/strata/internal/ratelimit"
	"github.com/stratahq/strata/internal/refs"
	"github.com/stratahq/strata/internal/scans"
	"github.com/stratahq/strata/internal/service"
	"github.com/stratahq/strata/internal/store"
	"github.com/stratahq/strata/internal/tracing"
)

var (
	configPath     string
	demoEnabled    bool
	falkorEnabled  bool
	crossRegionARN bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the strata rollup server",
	Long: `Start the strata server which executes cross-repository rollups,
maintains the external object index, and answers blast-radius queries
over merged graphs.`,
	Run: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to strata.yaml (built-in defaults when empty)")
	serverCmd.Flags().BoolVar(&demoEnabled, "demo", false, "Seed the demo fixtures and run the demo rollup on startup")
	serverCmd.Flags().BoolVar(&falkorEnabled, "falkor-enabled", false, "Persist merged graphs in FalkorDB instead of memory")
	serverCmd.Flags().BoolVar(&crossRegionARN, "cross-region-arns", false, "Normalize ARNs without region/account so multi-region twins match")
}

func runServer(cmd *cobra.Command, args []string) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		HandleError(err, "Configuration error")
		cfg = loaded
	}

	levels := logLevelFlags
	if !rootCmd.PersistentFlags().Changed("log-level") {
		levels = []string{cfg.Server.LogLevel}
	}
	if err := setupLog(levels); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("server")

	logger.Info("Starting strata v%s", Version)

	manager := lifecycle.NewManager()
	manager.SetShutdownTimeout(10 * time.Second)

	// Tracing is best-effort: a broken exporter must not keep rollups down.
	tracingProvider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
		tracingProvider = nil
	}
	if tracingProvider != nil {
		HandleError(manager.Register(tracingProvider), "Tracing registration error")
	}

	pool, err := queue.NewPool(cfg.Queue)
	HandleError(err, "Queue initialization error")

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, pool)
	HandleError(manager.Register(metricsServer), "Metrics registration error")

	mem := store.NewMemory()

	var graphs store.GraphStore = mem
	var falkor *store.FalkorGraphStore
	if falkorEnabled {
		falkor = store.NewFalkorGraphStore(cfg.Falkor)
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Falkor.DialTimeout)
		err := falkor.Connect(connectCtx)
		cancel()
		HandleError(err, "FalkorDB connection error")
		graphs = falkor
		logger.Info("Merged graphs persisted to FalkorDB at %s:%d", cfg.Falkor.Host, cfg.Falkor.Port)
	}

	var l1 *index.EntryCache
	if cfg.Cache.L1.Enabled {
		l1, err = index.NewEntryCache(cfg.Cache.L1)
		HandleError(err, "L1 cache initialization error")
	}
	var l2 *index.RedisCache
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		l2, err = index.NewRedisCache(client, cfg.Cache.L2)
		HandleError(err, "L2 cache initialization error")
		logger.Info("L2 index cache enabled at %s", cfg.Cache.RedisAddr)
	}

	registry := refs.DefaultRegistry(crossRegionARN)
	tiered := index.NewTieredIndex(mem, l1, l2, registry)
	provider := scans.NewStaticProvider()
	builder := index.NewBuilder(mem, provider, registry, tiered)

	// Risk thresholds come from the config file unless a dedicated risk file
	// is watched for hot-reload.
	riskSource := blast.StaticRisk(cfg.Risk)
	if cfg.RiskFile != "" {
		riskWatcher, err := config.NewRiskWatcher(config.RiskWatcherConfig{FilePath: cfg.RiskFile})
		HandleError(err, "Risk watcher initialization error")
		HandleError(manager.Register(riskWatcher), "Risk watcher registration error")
		riskSource = riskWatcher.Source()
		logger.Info("Risk thresholds hot-reloaded from %s", cfg.RiskFile)
	}

	sink := metricsServer.Metrics().Sink(audit.NewLoggerSink())

	exec, err := executor.New(cfg.Executor, provider, builder, tiered,
		match.NewFactory(nil), merge.NewEngine(), mem, graphs, sink,
		metricsServer.Metrics().ObserveExecution)
	HandleError(err, "Executor initialization error")

	limiter := ratelimit.NewRegistry(cfg.RateLimit)
	svc, err := service.New(cfg.Service, mem, mem, graphs, exec, pool, limiter,
		blast.NewEngine(riskSource), sink)
	HandleError(err, "Service initialization error")

	scheduler := service.NewScheduler(svc)
	HandleError(manager.Register(scheduler), "Scheduler registration error")

	ctx, cancel := context.WithCancel(context.Background())
	HandleError(manager.Start(ctx), "Startup error")

	if demoEnabled {
		runDemo(ctx, logger, provider, svc, scheduler)
	}

	logger.Info("Server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("Error draining queue: %v", err)
	}
	if falkor != nil {
		if err := falkor.Close(); err != nil {
			logger.Error("Error closing FalkorDB connection: %v", err)
		}
	}
	logger.Info("Shutdown complete")
}

// runDemo seeds the fixture graphs, creates the demo rollup and runs it once
// synchronously so a fresh checkout shows a merged graph immediately.
func runDemo(ctx context.Context, logger *logging.Logger, provider *scans.StaticProvider, svc *service.Service, scheduler *service.Scheduler) {
	rollup := demo.Seed(provider)
	created, err := svc.Create(ctx, rollup)
	if err != nil {
		logger.Error("Failed to create demo rollup: %v", err)
		return
	}
	if err := scheduler.Add(created); err != nil {
		logger.Warn("Failed to schedule demo rollup: %v", err)
	}

	final, err := svc.Run(ctx, created.TenantID, created.ID, nil, service.RunOptions{})
	if err != nil {
		logger.Error("Demo rollup failed: %v", err)
		return
	}
	logger.InfoWithFields("Demo rollup completed",
		logging.Field("execution", final.ID),
		logging.Field("merged_nodes", final.Stats.MergedNodes),
		logging.Field("equivalence_classes", final.Stats.EquivalenceClasses),
		logging.Field("cross_repo_edges", final.Stats.CrossRepoEdges))
}
