package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/robocache/robocache/pkg/errors"
	"github.com/robocache/robocache/pkg/types"
)

// sessionHeader carries the client's session identifier. Training jobs
// set it so concurrent readers do not pollute each other's access
// patterns; without it the bucket name is used.
const sessionHeader = "X-Session-ID"

// cacheStatusHeader reports whether the response came from cache.
const cacheStatusHeader = "X-Cache"

// Enqueuer accepts prefetch candidates. Implemented by the prefetch
// scheduler.
type Enqueuer interface {
	Enqueue(candidates []types.PrefetchCandidate)
}

// Config represents request interceptor configuration.
type Config struct {
	// Threshold is the maximum object size admitted to the cache.
	Threshold int64

	// Extensions restricts cacheability by file extension. Empty
	// disables the filter.
	Extensions []string

	// FetchTimeout bounds a backend fetch on the miss path.
	FetchTimeout time.Duration

	// MaxUploadSize bounds PUT request bodies.
	MaxUploadSize int64
}

// Interceptor is the S3-shaped HTTP surface of the sidecar. GET is
// read-through cached, PUT is write-through with invalidation, HEAD is
// pure passthrough.
type Interceptor struct {
	config   Config
	backend  types.Backend
	cache    types.Cache
	tracker  types.AccessTracker
	prefetch Enqueuer
	group    *singleflight.Group
	metrics  types.MetricsRecorder
	logger   *slog.Logger

	extensions map[string]struct{}
}

// NewInterceptor creates the request interceptor. The singleflight
// group must be the same instance the prefetch scheduler uses so a
// client miss and a speculative fetch for one key collapse.
func NewInterceptor(config Config, backend types.Backend, cache types.Cache,
	tracker types.AccessTracker, prefetch Enqueuer,
	group *singleflight.Group, metrics types.MetricsRecorder,
	logger *slog.Logger) *Interceptor {

	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = 256 << 20
	}
	if group == nil {
		group = &singleflight.Group{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	extensions := make(map[string]struct{}, len(config.Extensions))
	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	return &Interceptor{
		config:     config,
		backend:    backend,
		cache:      cache,
		tracker:    tracker,
		prefetch:   prefetch,
		group:      group,
		metrics:    metrics,
		logger:     logger,
		extensions: extensions,
	}
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := splitObjectPath(r.URL.Path)
	if !ok {
		i.writeError(w, errors.New(errors.ErrCodeInvalidState,
			"request path must be /{bucket}/{key}"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		i.handleGet(w, r, bucket, key)
	case http.MethodPut:
		i.handlePut(w, r, bucket, key)
	case http.MethodHead:
		i.handleHead(w, r, bucket, key)
	default:
		w.Header().Set("Allow", "GET, PUT, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGet serves the read-through path: cache hit, or a deduplicated
// backend fetch that populates the cache before any waiter responds.
func (i *Interceptor) handleGet(w http.ResponseWriter, r *http.Request, bucket, key string) {
	eligible := i.eligibleKey(key)

	if data, ok := i.cache.Get(bucket, key); ok {
		i.metrics.RecordHit(int64(len(data)))
		i.observeAccess(r, bucket, key, eligible)

		w.Header().Set(cacheStatusHeader, "HIT")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Type", contentTypeFor(key))
		_, _ = w.Write(data)
		return
	}

	i.metrics.RecordMiss()
	i.observeAccess(r, bucket, key, eligible)

	res, err := i.fetchThrough(r.Context(), bucket, key, eligible)
	if err != nil {
		i.writeError(w, err)
		return
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if res.Info != nil && res.Info.ContentType != "" {
		w.Header().Set("Content-Type", res.Info.ContentType)
	} else {
		w.Header().Set("Content-Type", contentTypeFor(key))
	}
	if res.Info != nil && res.Info.ETag != "" {
		w.Header().Set("ETag", res.Info.ETag)
	}
	_, _ = w.Write(res.Data)
}

// fetchThrough performs the deduplicated backend fetch. The group is
// shared with the prefetch scheduler, so the flight joined here may
// have started as a speculative fetch; both producers return
// types.FetchedObject. The fetch is detached from the caller's
// cancellation: a client that goes away does not abort the flight
// other waiters and the cache depend on.
func (i *Interceptor) fetchThrough(ctx context.Context, bucket, key string, eligible bool) (types.FetchedObject, error) {
	flightKey := types.CacheKey{Bucket: bucket, Key: key}.String()

	v, err, _ := i.group.Do(flightKey, func() (interface{}, error) {
		res, err := i.fetchAndPopulate(ctx, bucket, key, eligible)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return types.FetchedObject{}, err
	}
	if res, ok := v.(types.FetchedObject); ok {
		return res, nil
	}

	// A producer put an unexpected value on the flight. Fetch directly
	// rather than fail the client.
	i.logger.Warn("unexpected flight result type, fetching directly",
		"bucket", bucket, "key", key)
	return i.fetchAndPopulate(ctx, bucket, key, eligible)
}

// fetchAndPopulate fetches from the backend and populates the cache
// when the object is eligible and under the size threshold.
func (i *Interceptor) fetchAndPopulate(ctx context.Context, bucket, key string, eligible bool) (types.FetchedObject, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.config.FetchTimeout)
	defer cancel()

	data, info, err := i.backend.GetObject(fetchCtx, bucket, key)
	if err != nil {
		return types.FetchedObject{}, err
	}
	i.metrics.RecordBackendBytes(int64(len(data)))

	if eligible && (i.config.Threshold <= 0 || int64(len(data)) <= i.config.Threshold) {
		if perr := i.cache.Put(bucket, key, data, false); perr != nil {
			i.logger.Debug("cache populate skipped",
				"bucket", bucket, "key", key, "err", perr)
		}
	}

	return types.FetchedObject{Data: data, Info: info}, nil
}

// handlePut forwards the write and invalidates the key before the
// client sees the acknowledgement, so a subsequent GET never returns
// the overwritten version from cache.
func (i *Interceptor) handlePut(w http.ResponseWriter, r *http.Request, bucket, key string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, i.config.MaxUploadSize+1))
	if err != nil {
		i.writeError(w, errors.Wrap(errors.ErrCodeInternalError, "failed to read request body", err))
		return
	}
	if int64(len(body)) > i.config.MaxUploadSize {
		i.writeError(w, errors.Newf(errors.ErrCodeCapacityExhausted,
			"upload exceeds limit of %d bytes", i.config.MaxUploadSize))
		return
	}

	info, err := i.backend.PutObject(r.Context(), bucket, key, body, r.Header.Get("Content-Type"))
	if err != nil {
		i.writeError(w, err)
		return
	}

	i.cache.Invalidate(bucket, key)

	if info != nil && info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)
}

// handleHead is pure passthrough; metadata requests are not cached.
func (i *Interceptor) handleHead(w http.ResponseWriter, r *http.Request, bucket, key string) {
	info, err := i.backend.HeadObject(r.Context(), bucket, key)
	if err != nil {
		i.writeError(w, err)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
}

// observeAccess feeds the pattern tracker and forwards any candidates
// to the prefetch scheduler. Ineligible keys are not tracked; their
// predicted successors would be ineligible too.
func (i *Interceptor) observeAccess(r *http.Request, bucket, key string, eligible bool) {
	if !eligible || i.tracker == nil {
		return
	}

	session := r.Header.Get(sessionHeader)
	if session == "" {
		session = bucket
	}

	candidates := i.tracker.Record(session, bucket, key, time.Now())
	if len(candidates) > 0 && i.prefetch != nil {
		i.prefetch.Enqueue(candidates)
	}
}

// eligibleKey applies the extension filter; an empty filter admits
// everything.
func (i *Interceptor) eligibleKey(key string) bool {
	if len(i.extensions) == 0 {
		return true
	}
	_, ok := i.extensions[strings.ToLower(path.Ext(key))]
	return ok
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders the structured taxonomy as a JSON error response,
// preserving the backend-reported code and mapped status.
func (i *Interceptor) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)

	if status >= http.StatusInternalServerError {
		i.logger.Error("request failed", "code", code, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: string(code), Message: err.Error()})
}

// splitObjectPath parses /{bucket}/{key...}; both parts are required.
func splitObjectPath(p string) (bucket, key string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	idx := strings.IndexByte(p, '/')
	if idx <= 0 || idx == len(p)-1 {
		return "", "", false
	}
	return p[:idx], p[idx+1:], true
}

// contentTypeFor guesses a content type for cache hits, where the
// backend's stored type is not retained.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
