package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete sidecar configuration.
type Configuration struct {
	Listen   ListenConfig   `yaml:"listen"`
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenConfig configures the proxy listener.
type ListenConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// BackendConfig configures the object-store backend client.
type BackendConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// RequestTimeout bounds every backend call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the attempt budget for retryable backend failures.
	MaxRetries int `yaml:"max_retries"`

	// ErrorBudgetWindow is the sliding window over which the prefetch
	// circuit breaker evaluates the backend error rate.
	ErrorBudgetWindow time.Duration `yaml:"error_budget_window"`
}

// CacheConfig configures the cache store. Capacity and Threshold
// accept human-readable sizes ("1GB", "512KB") or plain byte counts.
type CacheConfig struct {
	Capacity  string        `yaml:"capacity"`
	Threshold string        `yaml:"threshold"`
	TTL       time.Duration `yaml:"ttl"`

	// Extensions restricts cacheability to these file extensions.
	// Empty means any extension is eligible.
	Extensions []string `yaml:"extensions"`

	// LowWatermark is the utilization eviction drains the store to
	// once capacity pressure triggers.
	LowWatermark float64 `yaml:"low_watermark"`

	// Shards is the number of lock shards in the store.
	Shards int `yaml:"shards"`

	// CleanupInterval is the period of the background expiry sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PrefetchConfig configures pattern tracking and the prefetch pool.
type PrefetchConfig struct {
	Enabled bool `yaml:"enabled"`

	// ConfidenceThreshold is the minimum candidate confidence to
	// dispatch a prefetch.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// WindowSize is the per-session access window length.
	WindowSize int `yaml:"window_size"`

	// MinRun is the number of consecutive structure-matching accesses
	// required before candidates are emitted.
	MinRun int `yaml:"min_run"`

	// Depth is how many keys ahead to predict.
	Depth int `yaml:"depth"`

	// MaxConfidence caps the confidence score.
	MaxConfidence float64 `yaml:"max_confidence"`

	// Concurrency is the prefetch worker pool size.
	Concurrency int `yaml:"concurrency"`

	// QueueDepth bounds the candidate queue; overflow is dropped.
	QueueDepth int `yaml:"queue_depth"`

	// SessionTTL expires idle session windows from the tracker.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// MetricsConfig configures the metrics endpoint and snapshot loop.
type MetricsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Path             string        `yaml:"path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	ResetOnSnapshot  bool          `yaml:"reset_on_snapshot"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// NewDefault returns a configuration with sensible defaults for a
// robotics-dataset workload: small pose/gripper/config records below
// 1MB, everything larger passed through.
func NewDefault() *Configuration {
	return &Configuration{
		Listen: ListenConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Backend: BackendConfig{
			Endpoint:          "http://localhost:9000",
			Region:            "us-east-1",
			ForcePathStyle:    true,
			RequestTimeout:    10 * time.Second,
			MaxRetries:        3,
			ErrorBudgetWindow: 30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:        "1GB",
			Threshold:       "1MB",
			TTL:             5 * time.Minute,
			Extensions:      nil,
			LowWatermark:    0.8,
			Shards:          16,
			CleanupInterval: time.Minute,
		},
		Prefetch: PrefetchConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			WindowSize:          32,
			MinRun:              3,
			Depth:               4,
			MaxConfidence:       0.95,
			Concurrency:         4,
			QueueDepth:          256,
			SessionTTL:          10 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Addr:             ":9090",
			Path:             "/metrics",
			SnapshotInterval: time.Minute,
			ResetOnSnapshot:  false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file, applies
// environment overrides, and validates the result.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()

	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges a YAML file over the current configuration.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies ROBOCACHE_* environment overrides.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("ROBOCACHE_LISTEN_ADDR"); val != "" {
		c.Listen.Addr = val
	}
	if val := os.Getenv("ROBOCACHE_BACKEND_ENDPOINT"); val != "" {
		c.Backend.Endpoint = val
	}
	if val := os.Getenv("ROBOCACHE_BACKEND_REGION"); val != "" {
		c.Backend.Region = val
	}
	if val := os.Getenv("ROBOCACHE_ACCESS_KEY_ID"); val != "" {
		c.Backend.AccessKeyID = val
	}
	if val := os.Getenv("ROBOCACHE_SECRET_ACCESS_KEY"); val != "" {
		c.Backend.SecretAccessKey = val
	}
	if val := os.Getenv("ROBOCACHE_BACKEND_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Backend.RequestTimeout = d
		}
	}
	if val := os.Getenv("ROBOCACHE_CACHE_SIZE"); val != "" {
		c.Cache.Capacity = val
	}
	if val := os.Getenv("ROBOCACHE_SMALL_FILE_THRESHOLD"); val != "" {
		c.Cache.Threshold = val
	}
	if val := os.Getenv("ROBOCACHE_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = d
		}
	}
	if val := os.Getenv("ROBOCACHE_PREFETCH_ENABLED"); val != "" {
		c.Prefetch.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ROBOCACHE_PREFETCH_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Prefetch.Concurrency = n
		}
	}
	if val := os.Getenv("ROBOCACHE_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("ROBOCACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
}

// Validate checks configuration consistency.
func (c *Configuration) Validate() error {
	capacity, err := ParseSize(c.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("invalid cache capacity %q: %w", c.Cache.Capacity, err)
	}
	threshold, err := ParseSize(c.Cache.Threshold)
	if err != nil {
		return fmt.Errorf("invalid cache threshold %q: %w", c.Cache.Threshold, err)
	}
	if capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if threshold <= 0 {
		return fmt.Errorf("cache threshold must be positive, got %d", threshold)
	}
	if threshold > capacity {
		return fmt.Errorf("cache threshold %d exceeds capacity %d", threshold, capacity)
	}
	if c.Cache.LowWatermark <= 0 || c.Cache.LowWatermark > 1 {
		return fmt.Errorf("low watermark must be in (0, 1], got %f", c.Cache.LowWatermark)
	}
	if c.Cache.Shards <= 0 {
		return fmt.Errorf("shard count must be positive, got %d", c.Cache.Shards)
	}
	if c.Prefetch.ConfidenceThreshold < 0 || c.Prefetch.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1], got %f", c.Prefetch.ConfidenceThreshold)
	}
	if c.Prefetch.MinRun < 2 {
		return fmt.Errorf("prefetch min run must be at least 2, got %d", c.Prefetch.MinRun)
	}
	if c.Prefetch.WindowSize < c.Prefetch.MinRun {
		return fmt.Errorf("prefetch window %d smaller than min run %d", c.Prefetch.WindowSize, c.Prefetch.MinRun)
	}
	if c.Prefetch.Concurrency <= 0 {
		return fmt.Errorf("prefetch concurrency must be positive, got %d", c.Prefetch.Concurrency)
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request timeout must be positive, got %v", c.Backend.RequestTimeout)
	}
	return nil
}

// CapacityBytes returns the parsed cache capacity. Call after Validate.
func (c *Configuration) CapacityBytes() int64 {
	n, _ := ParseSize(c.Cache.Capacity)
	return n
}

// ThresholdBytes returns the parsed cacheable-size threshold.
func (c *Configuration) ThresholdBytes() int64 {
	n, _ := ParseSize(c.Cache.Threshold)
	return n
}

// ParseSize parses a human-readable size string like "1GB", "512KB",
// or "1048576" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multipliers := []struct {
		suffix string
		factor int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(s, m.suffix))
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number %q", num)
			}
			return int64(val * float64(m.factor)), nil
		}
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return val, nil
}
