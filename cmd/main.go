package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/mjolnir/internal/adapters/http/api"
	"github.com/okian/mjolnir/internal/adapters/http/media"
	"github.com/okian/mjolnir/internal/adapters/http/swagger"
	"github.com/okian/mjolnir/internal/adapters/stream"
	app "github.com/okian/mjolnir/internal/app"
	"github.com/okian/mjolnir/internal/config"
	"github.com/okian/mjolnir/pkg/logger"
	"github.com/okian/mjolnir/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init(metricsOptions(cfg)...)

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "mjolnir stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

// run starts the service and the HTTP server and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	hub := stream.NewHub(stream.WithLogger(loggerInstance.Named("stream")))
	defer hub.Close()

	svc := newService(cfg, hub)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	if metrics.Enabled() {
		interval := metrics.RefreshInterval()
		go startSystemMetricsUpdater(ctx, interval)
		go startServiceMetricsUpdater(ctx, interval, svc, hub)
	} else {
		loggerInstance.Info(ctx, "metrics recording disabled")
	}

	mux, err := newMux(ctx, cfg, svc, hub)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("storageRoot", svc.StorageRoot()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Hijacked stream connections are not tracked by Shutdown.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
	return nil
}

// metricsOptions maps the metrics settings of cfg onto the metrics manager.
func metricsOptions(cfg *config.Config) []metrics.Option {
	opts := []metrics.Option{
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithRefreshInterval(cfg.MetricsRefreshInterval),
		metrics.WithHistogramBuckets(cfg.MetricsBuckets),
	}
	if len(cfg.MetricsLabels) > 0 {
		opts = append(opts, metrics.WithCustomLabels(cfg.MetricsLabels))
	}
	return opts
}

// newService builds the throw service from configuration.
func newService(cfg *config.Config, hub *stream.Hub) *app.Service {
	return app.New(
		app.WithLogger(logger.Get().Named("service")),
		app.WithStorageRoot(cfg.StorageRoot),
		app.WithPlaceholderImage(cfg.PlaceholderImage),
		app.WithMediaPrefix(cfg.MediaPrefix),
		app.WithCatalog(cfg.CatalogDriver, cfg.CatalogDSN),
		app.WithBroadcaster(hub),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
	)
}

// newMux registers every route: API, live feed, media and docs.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service, hub *stream.Hub) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	docs, err := docsOptions(cfg)
	if err != nil {
		return nil, err
	}
	swagger.Register(ctx, mux, docs...)
	media.Register(ctx, mux, svc.MediaPrefix(), svc.StorageRoot())

	apiServer := api.NewServer(svc, svc,
		api.WithMaxListLimit(cfg.MaxListLimit),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithStream(hub),
		api.WithLogger(logger.Get().Named("api")),
	)
	apiServer.Register(ctx, mux)
	return mux, nil
}

// docsOptions loads the configured ReDoc bundle, if any.
func docsOptions(cfg *config.Config) ([]swagger.Option, error) {
	if cfg.RedocBundle == "" {
		return nil, nil
	}
	js, err := os.ReadFile(cfg.RedocBundle)
	if err != nil {
		return nil, fmt.Errorf("read redoc bundle: %w", err)
	}
	return []swagger.Option{swagger.WithRedocBundle(js)}, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, interval time.Duration, svc *app.Service, hub *stream.Hub) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc, hub)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service, hub *stream.Hub) {
	// GetStats refreshes the queue and catalog gauges itself.
	stats := svc.GetStats()

	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
	if queueSize, ok := stats["queueSize"].(int); ok {
		metrics.UpdateQueueCapacity(queueSize)
	}
	if hub != nil {
		metrics.UpdateStreamClients(hub.Count())
	}
}
