package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/clusterdeck/clusterdeck/internal/cluster"
	"github.com/clusterdeck/clusterdeck/internal/compliance"
	"github.com/clusterdeck/clusterdeck/internal/config"
	"github.com/clusterdeck/clusterdeck/internal/hub"
	"github.com/clusterdeck/clusterdeck/internal/logging"
	"github.com/clusterdeck/clusterdeck/internal/metrics"
	"github.com/clusterdeck/clusterdeck/internal/optimizer"
	"github.com/clusterdeck/clusterdeck/internal/storage"
	"github.com/clusterdeck/clusterdeck/internal/tracing"
)

var (
	configPath      string
	metricsPort     int
	collectInterval time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the clusterdeck server",
	Long: `Start the clusterdeck server. It collects telemetry from every stored
connection on a fixed interval, recomputes efficiency insights, runs the
bounded auto-heal executor, and surfaces incidents from the war-room
synthesis.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	serverCmd.Flags().IntVar(&metricsPort, "metrics-port", 9090, "Prometheus metrics port (0 disables)")
	serverCmd.Flags().DurationVar(&collectInterval, "collect-interval", time.Minute, "Telemetry collection interval")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		if err := validateLogLevel(logLevelFlag); err != nil {
			return err
		}
		cfg.LogLevel = logLevelFlag
	}
	logging.Initialize(cfg.LogLevel)
	logger := logging.GetLogger("server")

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:   cfg.TracingEnabled,
		Endpoint:  cfg.TracingEndpoint,
		TLSCAPath: cfg.TracingTLSCAPath,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	broadcast := hub.New(cfg.HubBufferSize, m)
	clusterSvc := cluster.NewService(cluster.Options{
		Store:        store,
		Hub:          broadcast,
		Metrics:      m,
		ProbeTimeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		CallTimeout:  time.Duration(cfg.LiveCallTimeoutSeconds) * time.Second,
	})
	optimizerSvc := optimizer.NewService(store, clusterSvc, broadcast, m)
	complianceSvc := compliance.NewService(store, clusterSvc, broadcast, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := optimizerSvc.EnsureDefaultCatalog(ctx); err != nil {
		return fmt.Errorf("seeding pricing catalog: %w", err)
	}
	if cfg.PricingCatalogPath != "" {
		watcher, err := optimizer.NewCatalogWatcher(cfg.PricingCatalogPath, optimizerSvc)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting pricing catalog watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{
			Addr:        fmt.Sprintf(":%d", metricsPort),
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listening on :%d", metricsPort)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithErr("metrics server", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("clusterdeck server started, collecting every %s", collectInterval)
	runCollector(ctx, logger, store, clusterSvc, optimizerSvc, complianceSvc)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tracer.Shutdown(shutdownCtx)
}

// runCollector drives the periodic per-connection pipeline until the
// context is cancelled. Connections are independent; a failure on one is
// logged and never stops the sweep.
func runCollector(ctx context.Context, logger *logging.Logger, store *storage.Store,
	clusterSvc *cluster.Service, optimizerSvc *optimizer.Service, complianceSvc *compliance.Service) {
	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conns, err := store.AllConnections()
			if err != nil {
				logger.ErrorWithErr("listing connections", err)
				continue
			}
			for i := range conns {
				conn := &conns[i]
				if _, err := clusterSvc.CollectTelemetry(ctx, conn); err != nil {
					logger.Warn("telemetry collection failed for connection %s: %v", conn.ID, err)
				}
				if _, err := optimizerSvc.EfficiencyReport(ctx, conn); err != nil {
					logger.Warn("efficiency report failed for connection %s: %v", conn.ID, err)
				}
				if incident := complianceSvc.WarRoom(ctx, conn); incident != nil && incident.Severity == "critical" {
					logger.Warn("critical incident %s on connection %s (%d events, %d error logs)",
						incident.IncidentID, conn.ID, incident.EventCount, incident.ErrorLogCount)
				}
			}
		}
	}
}
