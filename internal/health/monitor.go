// Package health runs the periodic backend reachability probe and
// serves the sidecar's health endpoint. The sidecar itself has no
// durable state, so health is a function of two things only: the
// backend answering, and the cache store responding to stats reads.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robocache/robocache/pkg/types"
)

// Status is the overall service health.
type Status string

const (
	// StatusHealthy - backend reachable.
	StatusHealthy Status = "healthy"
	// StatusDegraded - recent probe failures below the unhealthy bar;
	// cached reads still work, misses may fail.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy - backend unreachable for consecutive probes.
	StatusUnhealthy Status = "unhealthy"
)

// Config represents health monitor configuration.
type Config struct {
	// Interval between backend probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// UnhealthyAfter is the number of consecutive probe failures that
	// flips degraded to unhealthy.
	UnhealthyAfter int
}

// Monitor probes the backend on a fixed interval and keeps the latest
// verdict for the health endpoint.
type Monitor struct {
	config  Config
	backend types.Backend
	cache   types.Cache
	logger  *slog.Logger

	mu        sync.RWMutex
	status    Status
	failures  int
	lastCheck time.Time
	lastError string

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a health monitor. cache may be nil; the health
// payload then omits cache statistics.
func NewMonitor(config Config, backend types.Backend, cache types.Cache, logger *slog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.UnhealthyAfter <= 0 {
		config.UnhealthyAfter = 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		config:  config,
		backend: backend,
		cache:   cache,
		logger:  logger,
		status:  StatusHealthy,
		stopCh:  make(chan struct{}),
	}
}

// Start probes once immediately, then on the configured interval.
func (m *Monitor) Start() {
	m.probe()
	go m.loop()
}

// Stop ends the probe loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Status returns the current verdict.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	err := m.backend.HealthCheck(ctx)
	cancel()

	m.mu.Lock()
	prev := m.status
	m.lastCheck = time.Now()

	if err == nil {
		m.failures = 0
		m.lastError = ""
		m.status = StatusHealthy
	} else {
		m.failures++
		m.lastError = err.Error()
		if m.failures >= m.config.UnhealthyAfter {
			m.status = StatusUnhealthy
		} else {
			m.status = StatusDegraded
		}
	}
	status := m.status
	m.mu.Unlock()

	if status != prev {
		m.logger.Warn("health status changed", "from", prev, "to", status, "err", err)
	}
}

type backendHealth struct {
	Status    Status    `json:"status"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

type healthResponse struct {
	Status  Status            `json:"status"`
	Service string            `json:"service"`
	Backend backendHealth     `json:"backend"`
	Cache   *types.CacheStats `json:"cache,omitempty"`
}

// ServeHTTP renders the health verdict as JSON. Unhealthy maps to 503
// so load balancers stop routing; degraded stays 200 because cached
// reads still succeed.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	resp := healthResponse{
		Status:  m.status,
		Service: "robocache",
		Backend: backendHealth{
			Status:    m.status,
			LastCheck: m.lastCheck,
			Error:     m.lastError,
		},
	}
	m.mu.RUnlock()

	if m.cache != nil {
		stats := m.cache.Stats()
		resp.Cache = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
