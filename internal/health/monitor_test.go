package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/robocache/robocache/pkg/errors"
	"github.com/robocache/robocache/pkg/types"
)

// probeBackend implements only HealthCheck; the monitor uses nothing
// else.
type probeBackend struct {
	mu  sync.Mutex
	err error
}

func (b *probeBackend) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *probeBackend) HealthCheck(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *probeBackend) GetObject(ctx context.Context, bucket, key string) ([]byte, *types.ObjectInfo, error) {
	return nil, nil, errors.New(errors.ErrCodeObjectNotFound, key)
}

func (b *probeBackend) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (*types.ObjectInfo, error) {
	return nil, nil
}

func (b *probeBackend) HeadObject(ctx context.Context, bucket, key string) (*types.ObjectInfo, error) {
	return nil, errors.New(errors.ErrCodeObjectNotFound, key)
}

func (b *probeBackend) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]types.ObjectInfo, error) {
	return nil, nil
}

func newTestMonitor(backend types.Backend) *Monitor {
	return NewMonitor(Config{
		Interval:       time.Hour, // probes driven manually in tests
		Timeout:        time.Second,
		UnhealthyAfter: 3,
	}, backend, nil, nil)
}

func TestHealthyBackend(t *testing.T) {
	m := newTestMonitor(&probeBackend{})
	m.probe()

	if got := m.Status(); got != StatusHealthy {
		t.Errorf("status = %s, want healthy", got)
	}
}

func TestDegradedThenUnhealthy(t *testing.T) {
	backend := &probeBackend{}
	m := newTestMonitor(backend)
	backend.setErr(errors.New(errors.ErrCodeBackendUnavailable, "connection refused"))

	m.probe()
	if got := m.Status(); got != StatusDegraded {
		t.Errorf("status after 1 failure = %s, want degraded", got)
	}

	m.probe()
	m.probe()
	if got := m.Status(); got != StatusUnhealthy {
		t.Errorf("status after 3 failures = %s, want unhealthy", got)
	}
}

func TestRecoveryResetsFailures(t *testing.T) {
	backend := &probeBackend{}
	m := newTestMonitor(backend)

	backend.setErr(errors.New(errors.ErrCodeBackendUnavailable, "down"))
	for i := 0; i < 5; i++ {
		m.probe()
	}
	if m.Status() != StatusUnhealthy {
		t.Fatal("expected unhealthy")
	}

	backend.setErr(nil)
	m.probe()
	if got := m.Status(); got != StatusHealthy {
		t.Errorf("status after recovery = %s, want healthy", got)
	}
}

func TestServeHTTPStatusCodes(t *testing.T) {
	backend := &probeBackend{}
	m := newTestMonitor(backend)
	m.probe()

	w := httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status code = %d, want 200", w.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if resp.Status != "healthy" || resp.Service != "robocache" {
		t.Errorf("body = %+v", resp)
	}

	backend.setErr(errors.New(errors.ErrCodeBackendUnavailable, "down"))
	for i := 0; i < 3; i++ {
		m.probe()
	}

	w = httptest.NewRecorder()
	m.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status code = %d, want 503", w.Code)
	}
}
