// Package circuit implements the circuit breaker that gates prefetch
// traffic on the backend error budget. When the recent error rate
// inside the budget window exceeds the trip ratio, the breaker opens
// and prefetching pauses until the backend recovers.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests are rejected.
	StateOpen
	// StateHalfOpen - a limited number of probe requests are allowed.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config controls when the breaker trips and recovers.
type Config struct {
	// Window is the error-budget window; counts reset when it elapses
	// in the closed state.
	Window time.Duration `yaml:"window"`

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// MinRequests is the minimum number of requests in the window
	// before the trip ratio is evaluated.
	MinRequests uint32 `yaml:"min_requests"`

	// TripRatio is the failure ratio at which the breaker opens.
	TripRatio float64 `yaml:"trip_ratio"`

	// MaxProbes is the number of requests allowed in half-open state.
	MaxProbes uint32 `yaml:"max_probes"`

	// OnStateChange, when set, is called on every transition.
	OnStateChange func(from, to State) `yaml:"-"`
}

// Counts holds request and outcome totals for the current window.
type Counts struct {
	Requests            uint32 `json:"requests"`
	Successes           uint32 `json:"successes"`
	Failures            uint32 `json:"failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a breaker, filling zero config fields with defaults.
func New(config Config) *Breaker {
	if config.Window <= 0 {
		config.Window = 30 * time.Second
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 15 * time.Second
	}
	if config.MinRequests == 0 {
		config.MinRequests = 10
	}
	if config.TripRatio <= 0 {
		config.TripRatio = 0.5
	}
	if config.MaxProbes == 0 {
		config.MaxProbes = 1
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Window),
	}
}

// Allow reports whether a request may proceed. Callers that proceed
// must report the outcome via Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxProbes {
		return ErrOpen
	}

	b.counts.Requests++
	return nil
}

// Record reports the outcome of a request previously admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if err == nil {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++

	switch state {
	case StateClosed:
		if b.counts.Requests >= b.config.MinRequests &&
			float64(b.counts.Failures)/float64(b.counts.Requests) >= b.config.TripRatio {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// GetCounts returns a copy of the current window counts.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset returns the breaker to the closed state with cleared counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.setState(StateClosed, time.Now())
}

// currentState advances window expiry and open->half-open transitions.
// Caller must hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Window)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

// setState transitions the breaker. Caller must hold b.mu.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Window)
	case StateOpen:
		b.expiry = now.Add(b.config.Cooldown)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, state)
	}
}
