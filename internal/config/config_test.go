package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1GB", 1 << 30, false},
		{"512KB", 512 << 10, false},
		{"1MB", 1 << 20, false},
		{"1.5MB", 1536 << 10, false},
		{"2TB", 2 << 40, false},
		{"100B", 100, false},
		{"1048576", 1 << 20, false},
		{"1gb", 1 << 30, false},
		{" 4MB ", 4 << 20, false},
		{"", 0, true},
		{"abc", 0, true},
		{"12XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewDefaultValidates(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(1<<20), cfg.ThresholdBytes(), "default threshold should be 1MB")
	assert.Equal(t, int64(1<<30), cfg.CapacityBytes(), "default capacity should be 1GB")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
	}{
		{"bad capacity", func(c *Configuration) { c.Cache.Capacity = "lots" }},
		{"threshold above capacity", func(c *Configuration) {
			c.Cache.Capacity = "1MB"
			c.Cache.Threshold = "2MB"
		}},
		{"zero watermark", func(c *Configuration) { c.Cache.LowWatermark = 0 }},
		{"zero shards", func(c *Configuration) { c.Cache.Shards = 0 }},
		{"confidence above one", func(c *Configuration) { c.Prefetch.ConfidenceThreshold = 1.5 }},
		{"min run too small", func(c *Configuration) { c.Prefetch.MinRun = 1 }},
		{"window below min run", func(c *Configuration) {
			c.Prefetch.WindowSize = 2
			c.Prefetch.MinRun = 3
		}},
		{"zero concurrency", func(c *Configuration) { c.Prefetch.Concurrency = 0 }},
		{"zero backend timeout", func(c *Configuration) { c.Backend.RequestTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cache:
  capacity: 10MB
  threshold: 1KB
prefetch:
  confidence_threshold: 0.6
  concurrency: 2
backend:
  endpoint: http://minio:9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10<<20), cfg.CapacityBytes())
	assert.Equal(t, int64(1<<10), cfg.ThresholdBytes())
	assert.Equal(t, 0.6, cfg.Prefetch.ConfidenceThreshold)
	assert.Equal(t, "http://minio:9000", cfg.Backend.Endpoint)

	// Unset fields keep defaults.
	assert.Equal(t, 16, cfg.Cache.Shards)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/robocache.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("ROBOCACHE_CACHE_SIZE", "64MB")
	t.Setenv("ROBOCACHE_SMALL_FILE_THRESHOLD", "256KB")
	t.Setenv("ROBOCACHE_BACKEND_ENDPOINT", "http://store:9000")
	t.Setenv("ROBOCACHE_PREFETCH_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(64<<20), cfg.CapacityBytes())
	assert.Equal(t, int64(256<<10), cfg.ThresholdBytes())
	assert.Equal(t, "http://store:9000", cfg.Backend.Endpoint)
	assert.False(t, cfg.Prefetch.Enabled)
}
