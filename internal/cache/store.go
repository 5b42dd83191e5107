package cache

import (
	"crypto/sha256"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robocache/robocache/pkg/errors"
	"github.com/robocache/robocache/pkg/types"
)

// Config represents cache store configuration.
type Config struct {
	// Capacity is the maximum total size of live entries in bytes.
	Capacity int64

	// Threshold is the maximum size of a single cacheable object.
	Threshold int64

	// TTL is the per-entry time to live; zero disables expiry.
	TTL time.Duration

	// LowWatermark is the utilization fraction eviction drains to
	// once capacity pressure triggers, so puts under pressure do not
	// immediately re-trigger eviction.
	LowWatermark float64

	// Shards is the number of lock shards.
	Shards int

	// CleanupInterval is the period of the background expiry sweep.
	CleanupInterval time.Duration
}

// entry is a single cached object. All fields are guarded by the
// owning shard's mutex.
type entry struct {
	bucket string
	key    string

	data     []byte
	size     int64
	checksum [sha256.Size]byte

	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
	expiresAt   time.Time

	// prefetched marks entries populated by the prefetch scheduler;
	// read flips on first Get and drives hit/waste accounting.
	prefetched bool
	read       bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store is a sharded, bounded, TTL-aware byte cache.
type Store struct {
	config  Config
	shards  []*shard
	curSize atomic.Int64

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	metrics types.MetricsRecorder

	stopCh    chan struct{}
	closeOnce sync.Once
}

var _ types.Cache = (*Store)(nil)

// removal reasons for accounting.
type removeReason int

const (
	removeEvict removeReason = iota
	removeExpire
	removeInvalidate
	removeCorrupt
	removeReplace
)

// NewStore creates a cache store. metrics may be nil.
func NewStore(config Config, metrics types.MetricsRecorder) *Store {
	if config.Shards <= 0 {
		config.Shards = 16
	}
	if config.LowWatermark <= 0 || config.LowWatermark > 1 {
		config.LowWatermark = 0.8
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}

	s := &Store{
		config:  config,
		shards:  make([]*shard, config.Shards),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	if config.TTL > 0 {
		go s.cleanupExpired()
	}

	return s
}

// Get returns a copy of the cached bytes. Expired entries and entries
// failing checksum verification are removed and reported as absent.
func (s *Store) Get(bucket, key string) ([]byte, bool) {
	k := cacheKey(bucket, key)
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	now := time.Now()
	if s.expired(e, now) {
		s.removeLocked(sh, k, removeExpire)
		s.misses.Add(1)
		return nil, false
	}

	if sha256.Sum256(e.data) != e.checksum {
		// Silent corruption: discard and treat as a miss.
		s.removeLocked(sh, k, removeCorrupt)
		s.misses.Add(1)
		return nil, false
	}

	e.lastAccess = now
	e.accessCount++
	if e.prefetched && !e.read {
		e.read = true
		s.metrics.RecordPrefetchHit()
	}

	s.hits.Add(1)

	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, true
}

// Put stores the payload. Zero-byte objects are cacheable; they cost
// nothing against capacity but still mark the key present. Objects
// above the cacheable threshold are rejected; capacity pressure is
// resolved by eviction before the new entry is inserted, so total size
// never exceeds capacity.
func (s *Store) Put(bucket, key string, data []byte, prefetched bool) error {
	size := int64(len(data))
	if s.config.Threshold > 0 && size > s.config.Threshold {
		return errors.Newf(errors.ErrCodeCapacityExhausted,
			"object size %d exceeds cacheable threshold %d", size, s.config.Threshold)
	}
	if size > s.config.Capacity {
		return errors.Newf(errors.ErrCodeCapacityExhausted,
			"object size %d exceeds total capacity %d", size, s.config.Capacity)
	}

	// Reserve the size before inserting. The CAS closes the window
	// where concurrent puts each pass a plain load-and-check and
	// collectively overshoot capacity.
	for {
		cur := s.curSize.Load()
		if cur+size > s.config.Capacity {
			s.evictFor(size)
			continue
		}
		if s.curSize.CompareAndSwap(cur, cur+size) {
			break
		}
	}

	k := cacheKey(bucket, key)
	sh := s.shardFor(k)

	now := time.Now()
	e := &entry{
		bucket:      bucket,
		key:         key,
		data:        append([]byte(nil), data...),
		size:        size,
		checksum:    sha256.Sum256(data),
		createdAt:   now,
		lastAccess:  now,
		accessCount: 1,
		prefetched:  prefetched,
	}
	if s.config.TTL > 0 {
		e.expiresAt = now.Add(s.config.TTL)
	}

	sh.mu.Lock()
	if _, exists := sh.entries[k]; exists {
		s.removeLocked(sh, k, removeReplace)
	}
	sh.entries[k] = e
	sh.mu.Unlock()

	return nil
}

// Invalidate removes any entry for the key.
func (s *Store) Invalidate(bucket, key string) {
	k := cacheKey(bucket, key)
	sh := s.shardFor(k)

	sh.mu.Lock()
	s.removeLocked(sh, k, removeInvalidate)
	sh.mu.Unlock()
}

// Contains reports whether a live, unexpired entry exists. Access
// statistics are not touched.
func (s *Store) Contains(bucket, key string) bool {
	k := cacheKey(bucket, key)
	sh := s.shardFor(k)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[k]
	return ok && !s.expired(e, time.Now())
}

// Size returns the current total size of live entries in bytes.
func (s *Store) Size() int64 {
	return s.curSize.Load()
}

// Stats returns a snapshot of store-level statistics.
func (s *Store) Stats() types.CacheStats {
	entries := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		entries += len(sh.entries)
		sh.mu.RUnlock()
	}

	size := s.curSize.Load()
	stats := types.CacheStats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Entries:     entries,
		Size:        size,
		Capacity:    s.config.Capacity,
	}
	if s.config.Capacity > 0 {
		stats.Utilization = float64(size) / float64(s.config.Capacity)
	}
	return stats
}

// Close stops the background expiry sweep.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
}

// expired reports TTL expiry. Caller must hold the shard lock.
func (s *Store) expired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// removeLocked deletes the entry and updates accounting. Caller must
// hold the shard lock. A prefetched entry removed by eviction or
// expiry before its first read counts as prefetch waste.
func (s *Store) removeLocked(sh *shard, k string, reason removeReason) {
	e, ok := sh.entries[k]
	if !ok {
		return
	}

	delete(sh.entries, k)
	s.curSize.Add(-e.size)

	switch reason {
	case removeEvict:
		s.evictions.Add(1)
		s.metrics.RecordEviction()
		if e.prefetched && !e.read {
			s.metrics.RecordPrefetchWaste()
		}
	case removeExpire:
		s.expirations.Add(1)
		s.metrics.RecordExpiration()
		if e.prefetched && !e.read {
			s.metrics.RecordPrefetchWaste()
		}
	case removeCorrupt:
		s.metrics.RecordCorruptionRecovered()
	}
}

// victim is an eviction candidate collected across shards.
type victim struct {
	key   string
	shard *shard
	score float64
	size  int64
}

// evictFor frees space for an incoming entry of the given size,
// draining down to the low watermark. Victim selection is frequency-
// weighted LRU: score = accessCount / (seconds since last access + ε),
// lowest first, so one-off sequential scans do not pollute the cache
// at the expense of frequently reused objects.
func (s *Store) evictFor(incoming int64) {
	target := int64(float64(s.config.Capacity)*s.config.LowWatermark) - incoming
	if target < 0 {
		target = 0
	}

	now := time.Now()
	const epsilon = 0.001

	var victims []victim
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			age := now.Sub(e.lastAccess).Seconds()
			victims = append(victims, victim{
				key:   k,
				shard: sh,
				score: float64(e.accessCount) / (age + epsilon),
				size:  e.size,
			})
		}
		sh.mu.RUnlock()
	}

	sort.Slice(victims, func(i, j int) bool {
		return victims[i].score < victims[j].score
	})

	for _, v := range victims {
		if s.curSize.Load() <= target {
			break
		}
		v.shard.mu.Lock()
		s.removeLocked(v.shard, v.key, removeEvict)
		v.shard.mu.Unlock()
	}
}

func (s *Store) cleanupExpired() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			for _, sh := range s.shards {
				sh.mu.Lock()
				for k, e := range sh.entries {
					if s.expired(e, now) {
						s.removeLocked(sh, k, removeExpire)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

func (s *Store) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func cacheKey(bucket, key string) string {
	return bucket + "/" + key
}

// noopRecorder satisfies types.MetricsRecorder when no aggregator is
// wired, e.g. in tests.
type noopRecorder struct{}

func (noopRecorder) RecordHit(int64)            {}
func (noopRecorder) RecordMiss()                {}
func (noopRecorder) RecordBackendBytes(int64)   {}
func (noopRecorder) RecordEviction()            {}
func (noopRecorder) RecordExpiration()          {}
func (noopRecorder) RecordPrefetchIssued()      {}
func (noopRecorder) RecordPrefetchSuccess()     {}
func (noopRecorder) RecordPrefetchFailure()     {}
func (noopRecorder) RecordPrefetchHit()         {}
func (noopRecorder) RecordPrefetchWaste()       {}
func (noopRecorder) RecordCorruptionRecovered() {}
