package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robocache/robocache/pkg/types"
)

// Config represents metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`

	// SnapshotInterval is how often a snapshot line is logged.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// ResetOnSnapshot makes periodic snapshots reset the counters so
	// each one covers a single reporting interval.
	ResetOnSnapshot bool `yaml:"reset_on_snapshot"`

	Namespace string `yaml:"namespace"`
}

// Aggregator accumulates counters under concurrent increment from all
// other components. Increments are atomic and never block on snapshot
// reads.
type Aggregator struct {
	config Config
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64

	evictions   atomic.Uint64
	expirations atomic.Uint64

	prefetchIssued    atomic.Uint64
	prefetchSucceeded atomic.Uint64
	prefetchFailed    atomic.Uint64
	prefetchHits      atomic.Uint64
	prefetchWaste     atomic.Uint64

	corruptionRecoveries atomic.Uint64

	bytesFromCache   atomic.Uint64
	bytesFromBackend atomic.Uint64

	// sizer reports the current cache size for the gauge; set once at
	// wiring time.
	sizer func() int64

	// healthHandler, when set, serves /health on the metrics listener.
	healthHandler http.Handler

	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	evictionsTotal  prometheus.Counter
	prefetchTotal   *prometheus.CounterVec
	bytesServed     *prometheus.CounterVec
	corruptionTotal prometheus.Counter
	cacheSizeGauge  prometheus.Gauge

	server *http.Server
	stopCh chan struct{}
}

var _ types.MetricsRecorder = (*Aggregator)(nil)

// NewAggregator creates a metrics aggregator and registers its
// Prometheus collectors.
func NewAggregator(config Config, logger *slog.Logger) (*Aggregator, error) {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = time.Minute
	}
	if config.Namespace == "" {
		config.Namespace = "robocache"
	}

	a := &Aggregator{
		config:   config,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		stopCh:   make(chan struct{}),
	}

	a.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_requests_total",
			Help:      "Total cache lookups by outcome",
		},
		[]string{"outcome"},
	)
	a.evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Total entries removed by capacity eviction",
		},
	)
	a.prefetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "prefetch_total",
			Help:      "Prefetch outcomes by result",
		},
		[]string{"result"},
	)
	a.bytesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "bytes_served_total",
			Help:      "Bytes served by source",
		},
		[]string{"source"},
	)
	a.corruptionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_corruption_recoveries_total",
			Help:      "Checksum mismatches recovered as misses",
		},
	)
	a.cacheSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_size_bytes",
			Help:      "Current total size of live cache entries",
		},
	)

	collectors := []prometheus.Collector{
		a.requestsTotal, a.evictionsTotal, a.prefetchTotal,
		a.bytesServed, a.corruptionTotal, a.cacheSizeGauge,
	}
	for _, c := range collectors {
		if err := a.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return a, nil
}

// SetCacheSizer registers the function used to report cache size.
func (a *Aggregator) SetCacheSizer(sizer func() int64) {
	a.sizer = sizer
}

// SetHealthHandler replaces the static health response with a real
// health monitor. Must be called before Start.
func (a *Aggregator) SetHealthHandler(h http.Handler) {
	a.healthHandler = h
}

// Start serves the Prometheus endpoint and the periodic snapshot loop.
func (a *Aggregator) Start(ctx context.Context) error {
	if !a.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(a.config.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if a.healthHandler != nil {
		mux.Handle("/health", a.healthHandler)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"healthy","service":"robocache"}`))
		})
	}

	a.server = &http.Server{
		Addr:              a.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", "err", err)
		}
	}()

	go a.snapshotLoop(ctx)

	return nil
}

// Stop shuts down the metrics server.
func (a *Aggregator) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// RecordHit records a cache hit and the bytes it served.
func (a *Aggregator) RecordHit(bytes int64) {
	a.hits.Add(1)
	a.bytesFromCache.Add(uint64(bytes))
	a.requestsTotal.WithLabelValues("hit").Inc()
	a.bytesServed.WithLabelValues("cache").Add(float64(bytes))
}

// RecordMiss records a cache miss.
func (a *Aggregator) RecordMiss() {
	a.misses.Add(1)
	a.requestsTotal.WithLabelValues("miss").Inc()
}

// RecordBackendBytes records bytes served from the backend store.
func (a *Aggregator) RecordBackendBytes(bytes int64) {
	a.bytesFromBackend.Add(uint64(bytes))
	a.bytesServed.WithLabelValues("backend").Add(float64(bytes))
}

// RecordEviction records one capacity eviction.
func (a *Aggregator) RecordEviction() {
	a.evictions.Add(1)
	a.evictionsTotal.Inc()
}

// RecordExpiration records one TTL expiry removal.
func (a *Aggregator) RecordExpiration() {
	a.expirations.Add(1)
}

// RecordPrefetchIssued records a candidate dispatched to a worker.
func (a *Aggregator) RecordPrefetchIssued() {
	a.prefetchIssued.Add(1)
	a.prefetchTotal.WithLabelValues("issued").Inc()
}

// RecordPrefetchSuccess records a prefetch that populated the cache.
func (a *Aggregator) RecordPrefetchSuccess() {
	a.prefetchSucceeded.Add(1)
	a.prefetchTotal.WithLabelValues("success").Inc()
}

// RecordPrefetchFailure records a prefetch dropped on error.
func (a *Aggregator) RecordPrefetchFailure() {
	a.prefetchFailed.Add(1)
	a.prefetchTotal.WithLabelValues("failure").Inc()
}

// RecordPrefetchHit records the first read of a prefetched entry.
func (a *Aggregator) RecordPrefetchHit() {
	a.prefetchHits.Add(1)
	a.prefetchTotal.WithLabelValues("hit").Inc()
}

// RecordPrefetchWaste records a prefetched entry evicted or expired
// before it was ever read.
func (a *Aggregator) RecordPrefetchWaste() {
	a.prefetchWaste.Add(1)
	a.prefetchTotal.WithLabelValues("waste").Inc()
}

// RecordCorruptionRecovered records a checksum mismatch handled as a miss.
func (a *Aggregator) RecordCorruptionRecovered() {
	a.corruptionRecoveries.Add(1)
	a.corruptionTotal.Inc()
}

// Snapshot returns the current counter values without blocking
// concurrent increments.
func (a *Aggregator) Snapshot() types.MetricsSnapshot {
	return types.MetricsSnapshot{
		Timestamp:            time.Now(),
		Hits:                 a.hits.Load(),
		Misses:               a.misses.Load(),
		Evictions:            a.evictions.Load(),
		Expirations:          a.expirations.Load(),
		PrefetchIssued:       a.prefetchIssued.Load(),
		PrefetchSucceeded:    a.prefetchSucceeded.Load(),
		PrefetchFailed:       a.prefetchFailed.Load(),
		PrefetchHits:         a.prefetchHits.Load(),
		PrefetchWaste:        a.prefetchWaste.Load(),
		CorruptionRecoveries: a.corruptionRecoveries.Load(),
		BytesFromCache:       a.bytesFromCache.Load(),
		BytesFromBackend:     a.bytesFromBackend.Load(),
	}
}

// SnapshotAndReset returns the counter values accumulated since the
// previous reset and zeroes them, swap-and-reset style.
func (a *Aggregator) SnapshotAndReset() types.MetricsSnapshot {
	return types.MetricsSnapshot{
		Timestamp:            time.Now(),
		Hits:                 a.hits.Swap(0),
		Misses:               a.misses.Swap(0),
		Evictions:            a.evictions.Swap(0),
		Expirations:          a.expirations.Swap(0),
		PrefetchIssued:       a.prefetchIssued.Swap(0),
		PrefetchSucceeded:    a.prefetchSucceeded.Swap(0),
		PrefetchFailed:       a.prefetchFailed.Swap(0),
		PrefetchHits:         a.prefetchHits.Swap(0),
		PrefetchWaste:        a.prefetchWaste.Swap(0),
		CorruptionRecoveries: a.corruptionRecoveries.Swap(0),
		BytesFromCache:       a.bytesFromCache.Swap(0),
		BytesFromBackend:     a.bytesFromBackend.Swap(0),
	}
}

func (a *Aggregator) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if a.sizer != nil {
				a.cacheSizeGauge.Set(float64(a.sizer()))
			}

			var snap types.MetricsSnapshot
			if a.config.ResetOnSnapshot {
				snap = a.SnapshotAndReset()
			} else {
				snap = a.Snapshot()
			}
			a.logger.Info("cache stats",
				"hits", snap.Hits,
				"misses", snap.Misses,
				"hit_rate", fmt.Sprintf("%.3f", snap.HitRate()),
				"evictions", snap.Evictions,
				"prefetch_hits", snap.PrefetchHits,
				"prefetch_waste", snap.PrefetchWaste,
				"prefetch_value", fmt.Sprintf("%.3f", snap.PrefetchValue()),
				"bytes_cache", snap.BytesFromCache,
				"bytes_backend", snap.BytesFromBackend,
			)
		}
	}
}
