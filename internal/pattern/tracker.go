package pattern

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robocache/robocache/pkg/types"
)

// Config represents access tracker configuration.
type Config struct {
	// WindowSize is the number of recent accesses kept per session.
	WindowSize int

	// MinRun is the minimum sequential run length before predicting.
	MinRun int

	// Depth is the maximum number of keys predicted per access.
	Depth int

	// MaxConfidence caps prediction confidence below certainty.
	MaxConfidence float64

	// SessionTTL expires idle sessions from the tracker.
	SessionTTL time.Duration

	// Detector overrides the default numeric-suffix detector.
	Detector SequenceDetector
}

type access struct {
	bucket string
	key    string
}

type session struct {
	window   []access
	lastSeen time.Time
}

// Tracker observes per-session access streams and emits prefetch
// candidates when the configured detector finds a pattern. Tracking is
// advisory: a failed or skipped record never affects request serving.
type Tracker struct {
	mu        sync.Mutex
	config    Config
	detector  SequenceDetector
	sessions  map[string]*session
	lastPrune time.Time
	logger    *slog.Logger
}

var _ types.AccessTracker = (*Tracker)(nil)

// NewTracker creates an access tracker. logger may be nil.
func NewTracker(config Config, logger *slog.Logger) *Tracker {
	if config.WindowSize <= 0 {
		config.WindowSize = 32
	}
	if config.MinRun <= 0 {
		config.MinRun = 3
	}
	if config.Depth <= 0 {
		config.Depth = 4
	}
	if config.MaxConfidence <= 0 || config.MaxConfidence > 1 {
		config.MaxConfidence = 0.95
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 10 * time.Minute
	}
	if config.Detector == nil {
		config.Detector = &NumericSuffixDetector{
			MinRun:        config.MinRun,
			MaxConfidence: config.MaxConfidence,
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		config:    config,
		detector:  config.Detector,
		sessions:  make(map[string]*session),
		lastPrune: time.Now(),
		logger:    logger,
	}
}

// Record appends an access to the session's window and returns any
// prefetch candidates the detector proposes. The session identifier
// comes from the client; callers fall back to the bucket name when a
// client does not send one.
func (t *Tracker) Record(sessionID, bucket, key string, at time.Time) []types.PrefetchCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybePrune(at)

	sess, ok := t.sessions[sessionID]
	if !ok {
		sess = &session{window: make([]access, 0, t.config.WindowSize)}
		t.sessions[sessionID] = sess
	}
	sess.lastSeen = at

	sess.window = append(sess.window, access{bucket: bucket, key: key})
	if len(sess.window) > t.config.WindowSize {
		sess.window = sess.window[len(sess.window)-t.config.WindowSize:]
	}

	// Detection runs on the trailing same-bucket run; a bucket switch
	// breaks any sequence.
	keys := trailingBucketKeys(sess.window, bucket)
	preds := t.detector.Detect(keys, t.config.Depth)
	if len(preds) == 0 {
		return nil
	}

	candidates := make([]types.PrefetchCandidate, 0, len(preds))
	for i, p := range preds {
		candidates = append(candidates, types.PrefetchCandidate{
			Bucket:     bucket,
			Key:        p.Key,
			Confidence: p.Confidence,
			Order:      i + 1,
		})
	}

	t.logger.Debug("sequence detected",
		"detector", t.detector.Name(),
		"session", sessionID,
		"bucket", bucket,
		"key", key,
		"candidates", len(candidates),
		"confidence", candidates[0].Confidence)

	return candidates
}

// SessionCount returns the number of tracked sessions.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// maybePrune drops sessions idle beyond the TTL. Runs at most once per
// TTL interval so Record stays cheap. Caller must hold t.mu.
func (t *Tracker) maybePrune(now time.Time) {
	if now.Sub(t.lastPrune) < t.config.SessionTTL {
		return
	}
	t.lastPrune = now

	for id, sess := range t.sessions {
		if now.Sub(sess.lastSeen) > t.config.SessionTTL {
			delete(t.sessions, id)
		}
	}
}

func trailingBucketKeys(window []access, bucket string) []string {
	start := len(window)
	for start > 0 && window[start-1].bucket == bucket {
		start--
	}
	keys := make([]string, 0, len(window)-start)
	for _, a := range window[start:] {
		keys = append(keys, a.key)
	}
	return keys
}
