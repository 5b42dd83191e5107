package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/robocache/robocache/internal/circuit"
	"github.com/robocache/robocache/pkg/errors"
	"github.com/robocache/robocache/pkg/types"
)

// Config represents prefetch scheduler configuration.
type Config struct {
	// Workers is the number of concurrent prefetch fetches.
	Workers int

	// QueueSize bounds the candidate queue; candidates arriving at a
	// full queue are dropped.
	QueueSize int

	// ConfidenceThreshold is the minimum candidate confidence to
	// dispatch a speculative fetch.
	ConfidenceThreshold float64

	// MaxObjectSize skips prefetching objects above the cacheable
	// threshold; their bodies would be rejected by the store anyway.
	MaxObjectSize int64

	// FetchTimeout bounds a single speculative backend fetch.
	FetchTimeout time.Duration
}

// Scheduler turns prefetch candidates into background backend fetches
// that warm the cache. Prefetching is strictly best effort: failures
// are counted and dropped, never surfaced to a client, and the circuit
// breaker stops speculative traffic when the backend is struggling.
type Scheduler struct {
	config  Config
	backend types.Backend
	cache   types.Cache
	breaker *circuit.Breaker
	group   *singleflight.Group
	metrics types.MetricsRecorder
	logger  *slog.Logger

	queue chan types.PrefetchCandidate

	mu      sync.Mutex
	pending map[string]struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a prefetch scheduler. The singleflight group is
// shared with the request interceptor so a speculative fetch and a
// client miss for the same key collapse into one backend call.
func NewScheduler(config Config, backend types.Backend, cache types.Cache,
	breaker *circuit.Breaker, group *singleflight.Group,
	metrics types.MetricsRecorder, logger *slog.Logger) *Scheduler {

	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.7
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if group == nil {
		group = &singleflight.Group{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		config:  config,
		backend: backend,
		cache:   cache,
		breaker: breaker,
		group:   group,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan types.PrefetchCandidate, config.QueueSize),
		pending: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool. Workers drain until Stop is called.
func (s *Scheduler) Start() {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("prefetch scheduler started",
		"workers", s.config.Workers,
		"queue_size", s.config.QueueSize,
		"confidence_threshold", s.config.ConfidenceThreshold)
}

// Stop shuts the worker pool down and waits for in-flight fetches.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Enqueue filters candidates and queues the survivors. Filters applied
// here are cheap and lock-light: confidence threshold, already cached,
// already pending. The expensive gates (breaker state, backend fetch)
// run in the workers.
func (s *Scheduler) Enqueue(candidates []types.PrefetchCandidate) {
	for _, c := range candidates {
		if c.Confidence < s.config.ConfidenceThreshold {
			continue
		}
		if s.cache.Contains(c.Bucket, c.Key) {
			continue
		}
		if !s.markPending(c) {
			continue
		}

		select {
		case s.queue <- c:
			s.metrics.RecordPrefetchIssued()
		default:
			// Queue full: shed rather than block the request path.
			s.clearPending(c)
			s.metrics.RecordPrefetchFailure()
			s.logger.Debug("prefetch queue full, dropping candidate",
				"bucket", c.Bucket, "key", c.Key)
		}
	}
}

// PendingCount returns the number of keys with an outstanding
// speculative fetch.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case c := <-s.queue:
			s.fetch(c)
		}
	}
}

// fetch performs one speculative backend fetch and populates the
// cache. The fetch is skipped, and counted as a failure, when the
// circuit breaker is open.
func (s *Scheduler) fetch(c types.PrefetchCandidate) {
	defer s.clearPending(c)

	if err := s.breaker.Allow(); err != nil {
		s.metrics.RecordPrefetchFailure()
		s.logger.Debug("prefetch suppressed, breaker open",
			"bucket", c.Bucket, "key", c.Key)
		return
	}

	key := types.CacheKey{Bucket: c.Bucket, Key: c.Key}.String()

	// The group is shared with the request interceptor; both producers
	// return types.FetchedObject so waiters from either path can use
	// the flight's value. owned distinguishes a flight this fetch
	// started from one it merely joined.
	var owned bool
	var populateErr error
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		owned = true

		ctx, cancel := context.WithTimeout(context.Background(), s.config.FetchTimeout)
		defer cancel()

		data, info, err := s.backend.GetObject(ctx, c.Bucket, c.Key)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordBackendBytes(int64(len(data)))

		if s.config.MaxObjectSize <= 0 || int64(len(data)) <= s.config.MaxObjectSize {
			populateErr = s.cache.Put(c.Bucket, c.Key, data, true)
		}

		// Waiters get the bytes even when the populate failed.
		return types.FetchedObject{Data: data, Info: info}, nil
	})

	// Only backend availability failures count against the error
	// budget. A missing predicted key is a bad prediction, not a sick
	// backend.
	if err != nil && errors.IsRetryable(errors.CodeOf(err)) {
		s.breaker.Record(err)
	} else {
		s.breaker.Record(nil)
	}

	if err != nil {
		s.metrics.RecordPrefetchFailure()
		s.logger.Debug("prefetch failed",
			"bucket", c.Bucket, "key", c.Key, "order", c.Order, "err", err)
		return
	}

	if !owned {
		// A reactive miss fetched this key first; nothing speculative
		// happened, so neither success nor failure is recorded.
		return
	}

	if populateErr != nil {
		s.metrics.RecordPrefetchFailure()
		s.logger.Debug("prefetch populate failed",
			"bucket", c.Bucket, "key", c.Key, "order", c.Order, "err", populateErr)
		return
	}

	s.metrics.RecordPrefetchSuccess()
}

func (s *Scheduler) markPending(c types.PrefetchCandidate) bool {
	k := types.CacheKey{Bucket: c.Bucket, Key: c.Key}.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[k]; exists {
		return false
	}
	s.pending[k] = struct{}{}
	return true
}

func (s *Scheduler) clearPending(c types.PrefetchCandidate) {
	k := types.CacheKey{Bucket: c.Bucket, Key: c.Key}.String()
	s.mu.Lock()
	delete(s.pending, k)
	s.mu.Unlock()
}
