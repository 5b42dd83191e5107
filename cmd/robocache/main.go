package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/robocache/robocache/internal/cache"
	"github.com/robocache/robocache/internal/circuit"
	"github.com/robocache/robocache/internal/config"
	"github.com/robocache/robocache/internal/health"
	"github.com/robocache/robocache/internal/metrics"
	"github.com/robocache/robocache/internal/pattern"
	"github.com/robocache/robocache/internal/prefetch"
	"github.com/robocache/robocache/internal/proxy"
	"github.com/robocache/robocache/internal/storage/s3"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "robocache:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("robocache", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting robocache",
		"version", version,
		"listen", cfg.Listen.Addr,
		"backend", cfg.Backend.Endpoint,
		"cache_capacity", cfg.Cache.Capacity,
		"cacheable_threshold", cfg.Cache.Threshold,
		"prefetch_enabled", cfg.Prefetch.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := s3.NewClient(ctx, s3.Config{
		Endpoint:        cfg.Backend.Endpoint,
		Region:          cfg.Backend.Region,
		AccessKeyID:     cfg.Backend.AccessKeyID,
		SecretAccessKey: cfg.Backend.SecretAccessKey,
		ForcePathStyle:  cfg.Backend.ForcePathStyle,
		RequestTimeout:  cfg.Backend.RequestTimeout,
		MaxRetries:      cfg.Backend.MaxRetries,
	}, logger.With("component", "s3"))
	if err != nil {
		return err
	}

	aggregator, err := metrics.NewAggregator(metrics.Config{
		Enabled:          cfg.Metrics.Enabled,
		Addr:             cfg.Metrics.Addr,
		Path:             cfg.Metrics.Path,
		SnapshotInterval: cfg.Metrics.SnapshotInterval,
		ResetOnSnapshot:  cfg.Metrics.ResetOnSnapshot,
	}, logger.With("component", "metrics"))
	if err != nil {
		return err
	}

	store := cache.NewStore(cache.Config{
		Capacity:        cfg.CapacityBytes(),
		Threshold:       cfg.ThresholdBytes(),
		TTL:             cfg.Cache.TTL,
		LowWatermark:    cfg.Cache.LowWatermark,
		Shards:          cfg.Cache.Shards,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, aggregator)
	defer store.Close()
	aggregator.SetCacheSizer(store.Size)

	monitor := health.NewMonitor(health.Config{
		Interval: 30 * time.Second,
		Timeout:  cfg.Backend.RequestTimeout,
	}, backend, store, logger.With("component", "health"))
	monitor.Start()
	defer monitor.Stop()
	aggregator.SetHealthHandler(monitor)

	// One singleflight group across reactive misses and speculative
	// fetches: at most one backend call in flight per key.
	group := &singleflight.Group{}

	var enqueuer proxy.Enqueuer
	if cfg.Prefetch.Enabled {
		breaker := circuit.New(circuit.Config{
			Window: cfg.Backend.ErrorBudgetWindow,
			OnStateChange: func(from, to circuit.State) {
				logger.Warn("prefetch breaker state change", "from", from, "to", to)
			},
		})

		scheduler := prefetch.NewScheduler(prefetch.Config{
			Workers:             cfg.Prefetch.Concurrency,
			QueueSize:           cfg.Prefetch.QueueDepth,
			ConfidenceThreshold: cfg.Prefetch.ConfidenceThreshold,
			MaxObjectSize:       cfg.ThresholdBytes(),
			FetchTimeout:        cfg.Backend.RequestTimeout,
		}, backend, store, breaker, group, aggregator, logger.With("component", "prefetch"))
		scheduler.Start()
		defer scheduler.Stop()
		enqueuer = scheduler
	}

	tracker := pattern.NewTracker(pattern.Config{
		WindowSize:    cfg.Prefetch.WindowSize,
		MinRun:        cfg.Prefetch.MinRun,
		Depth:         cfg.Prefetch.Depth,
		MaxConfidence: cfg.Prefetch.MaxConfidence,
		SessionTTL:    cfg.Prefetch.SessionTTL,
	}, logger.With("component", "pattern"))

	interceptor := proxy.NewInterceptor(proxy.Config{
		Threshold:    cfg.ThresholdBytes(),
		Extensions:   cfg.Cache.Extensions,
		FetchTimeout: cfg.Backend.RequestTimeout,
	}, backend, store, tracker, enqueuer, group, aggregator, logger.With("component", "proxy"))

	if cfg.Metrics.Enabled {
		go func() {
			if err := aggregator.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         cfg.Listen.Addr,
		Handler:      interceptor,
		ReadTimeout:  cfg.Listen.ReadTimeout,
		WriteTimeout: cfg.Listen.WriteTimeout,
		IdleTimeout:  cfg.Listen.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "addr", cfg.Listen.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("proxy shutdown failed", "err", err)
	}
	if cfg.Metrics.Enabled {
		if err := aggregator.Stop(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", "err", err)
		}
	}

	logger.Info("robocache stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
