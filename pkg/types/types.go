package types

import (
	"fmt"
	"time"
)

// ObjectInfo describes an object as reported by the backend store.
type ObjectInfo struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// CacheKey identifies cacheable content by bucket and object path.
type CacheKey struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String renders the key in bucket/path form, the form used for
// singleflight grouping and pending-fetch deduplication.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%s", k.Bucket, k.Key)
}

// FetchedObject is the outcome of one backend fetch, delivered to
// every singleflight waiter regardless of whether the flight began as
// a client miss or a speculative prefetch. Both producers must return
// this type from their flight functions.
type FetchedObject struct {
	Data []byte
	Info *ObjectInfo
}

// PrefetchCandidate is a key predicted likely to be requested soon.
// Candidates are derived and ephemeral; they are never persisted.
type PrefetchCandidate struct {
	Bucket     string  `json:"bucket"`
	Key        string  `json:"key"`
	Confidence float64 `json:"confidence"`
	Order      int     `json:"order"` // predicted position in the sequence, 1 = next
}

// CacheStats summarizes the current state of the cache store.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// MetricsSnapshot is a point-in-time view of the aggregated counters
// over a reporting interval.
type MetricsSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`

	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`

	PrefetchIssued    uint64 `json:"prefetch_issued"`
	PrefetchSucceeded uint64 `json:"prefetch_succeeded"`
	PrefetchFailed    uint64 `json:"prefetch_failed"`
	PrefetchHits      uint64 `json:"prefetch_hits"`
	PrefetchWaste     uint64 `json:"prefetch_waste"`

	CorruptionRecoveries uint64 `json:"corruption_recoveries"`

	BytesFromCache   uint64 `json:"bytes_from_cache"`
	BytesFromBackend uint64 `json:"bytes_from_backend"`
}

// HitRate returns cache efficiency: hits / (hits + misses).
func (s MetricsSnapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// PrefetchValue returns prefetch-hits / prefetch-successes, the
// fraction of prefetched entries that were actually read.
func (s MetricsSnapshot) PrefetchValue() float64 {
	if s.PrefetchSucceeded == 0 {
		return 0
	}
	return float64(s.PrefetchHits) / float64(s.PrefetchSucceeded)
}
