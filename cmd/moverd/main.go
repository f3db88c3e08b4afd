package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moverstatus/moverd/internal/config"
	"github.com/moverstatus/moverd/internal/metrics"
	"github.com/moverstatus/moverd/internal/notify"
	"github.com/moverstatus/moverd/internal/orchestrator"
	"github.com/moverstatus/moverd/internal/sampler"
	"github.com/moverstatus/moverd/internal/statusapi"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides defaults; flags override the file)")
	pidFile := flag.String("pid-file", "/var/run/mover.pid", "path to the mover's PID file")
	path := flag.String("path", ".", "source path the sampler measures")
	listenAddr := flag.String("listen", "127.0.0.1:9090", "status API bind address")
	dryRun := flag.Bool("dry-run", false, "record every provider as succeeded without sending notifications")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Error("failed to load config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { flagSet[f.Name] = true })
	if flagSet["pid-file"] || cfg.Monitoring.PIDFile == "" {
		cfg.Monitoring.PIDFile = *pidFile
	}
	if flagSet["path"] || len(cfg.Monitoring.Paths) == 0 {
		cfg.Monitoring.Paths = []string{*path}
	}
	if len(cfg.Notifications.Thresholds) == 0 {
		cfg.Notifications.Thresholds = []float64{25, 50, 75, 90}
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = map[string]bool{"log": true}
	}
	if flagSet["dry-run"] {
		cfg.Application.DryRun = *dryRun
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	providers := map[string]notify.Provider{
		"log": &logProvider{logger: logger},
	}

	orch := orchestrator.New(cfg, providers, sampler.WalkSampler{}, m, nil, logger)
	status := statusapi.New(statusAdapter{orch}, reg, logger)
	orch.SetStream(status)

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: status.Handler(),
	}

	go func() {
		logger.Info("status API listening", "addr", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status API failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		orch.RequestShutdown()
		cancel()
	}()

	if err := orch.Start(ctx); err != nil {
		logger.Error("orchestrator exited", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// statusAdapter bridges orchestrator.Snapshot into statusapi.StatusSnapshot,
// keeping the two packages decoupled from each other's types.
type statusAdapter struct {
	orch *orchestrator.Orchestrator
}

func (a statusAdapter) Status() statusapi.StatusSnapshot {
	snap := a.orch.Status()
	return statusapi.StatusSnapshot{
		LifecycleState:  snap.LifecycleState.String(),
		ActiveCycleID:   snap.ActiveCycleID,
		ProgressPercent: snap.Progress.Percent,
		MovedBytes:      snap.Progress.MovedBytes,
		TotalBytes:      snap.Progress.TotalBytes,
		RateBytesPerSec: snap.Progress.RateBytesPerSecond,
		HasProgress:     snap.HasProgress,
		DispatcherReady: snap.DispatcherReady,
	}
}

// logProvider is a minimal notify.Provider that logs instead of
// delivering anywhere; it exists so the daemon runs standalone out of
// the box. Real deployments register Discord/Slack/email providers
// implementing the same interface.
type logProvider struct {
	logger *slog.Logger
}

func (p *logProvider) SendNotification(ctx context.Context, data notify.Data) (notify.SendResult, error) {
	p.logger.Info("notification",
		"event_type", data.EventType,
		"correlation_id", data.CorrelationID,
		"title", data.Message.Title,
		"content", data.Message.Content,
	)
	return notify.SendResult{Success: true, ProviderID: "log"}, nil
}

func (p *logProvider) ValidateConfig() bool { return true }

func (p *logProvider) HealthCheck(ctx context.Context) notify.HealthStatus {
	return notify.HealthStatus{Healthy: true}
}
