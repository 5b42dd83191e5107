package types

import (
	"context"
	"time"
)

// Backend defines the interface to the authoritative object store.
// All calls carry a context; implementations apply the configured
// request timeout and map transport failures to structured errors.
type Backend interface {
	// GetObject fetches the full object body.
	GetObject(ctx context.Context, bucket, key string) ([]byte, *ObjectInfo, error)

	// PutObject writes the full object body.
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (*ObjectInfo, error)

	// HeadObject returns object metadata without the body.
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// ListObjects lists up to limit objects under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]ObjectInfo, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Cache defines the cache store contract. The store exclusively owns
// entry storage; callers never mutate entries directly.
type Cache interface {
	// Get returns a copy of the cached bytes, or ok=false when the key
	// is absent, expired, or failed checksum verification.
	Get(bucket, key string) (data []byte, ok bool)

	// Put stores the payload, evicting lower-value entries first if
	// capacity would be exceeded. prefetched tags the entry for
	// prefetch hit/waste accounting.
	Put(bucket, key string, data []byte, prefetched bool) error

	// Invalidate removes any entry for the key.
	Invalidate(bucket, key string)

	// Contains reports whether a live, unexpired entry exists without
	// touching access statistics.
	Contains(bucket, key string) bool

	// Size returns the current total size of live entries in bytes.
	Size() int64

	// Stats returns a snapshot of store-level statistics.
	Stats() CacheStats
}

// AccessTracker records object accesses and proposes prefetch
// candidates when a sequential pattern is detected. Records are used
// only for prediction, never for correctness.
type AccessTracker interface {
	Record(session, bucket, key string, at time.Time) []PrefetchCandidate
}

// MetricsRecorder receives counter increments from the other
// components. Implementations must be safe for concurrent use and
// must never block the caller.
type MetricsRecorder interface {
	RecordHit(bytes int64)
	RecordMiss()
	RecordBackendBytes(bytes int64)
	RecordEviction()
	RecordExpiration()
	RecordPrefetchIssued()
	RecordPrefetchSuccess()
	RecordPrefetchFailure()
	RecordPrefetchHit()
	RecordPrefetchWaste()
	RecordCorruptionRecovered()
}
