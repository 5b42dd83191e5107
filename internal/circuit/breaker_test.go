package circuit

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend failure")

func TestStartsClosed(t *testing.T) {
	b := New(Config{})
	if b.GetState() != StateClosed {
		t.Errorf("expected CLOSED, got %s", b.GetState())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("closed breaker should allow requests, got %v", err)
	}
}

func TestTripsOnFailureRatio(t *testing.T) {
	b := New(Config{MinRequests: 4, TripRatio: 0.5, Window: time.Minute})

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		b.Record(nil)
	}
	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		b.Record(errBackend)
	}

	if b.GetState() != StateOpen {
		t.Errorf("expected OPEN after 50%% failures, got %s", b.GetState())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker should reject, got %v", err)
	}
}

func TestDoesNotTripBelowMinRequests(t *testing.T) {
	b := New(Config{MinRequests: 10, TripRatio: 0.5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		b.Record(errBackend)
	}

	if b.GetState() != StateClosed {
		t.Errorf("expected CLOSED below min requests, got %s", b.GetState())
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b := New(Config{MinRequests: 1, TripRatio: 0.5, Cooldown: 10 * time.Millisecond, MaxProbes: 1})

	_ = b.Allow()
	b.Record(errBackend)
	if b.GetState() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if b.GetState() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after cooldown, got %s", b.GetState())
	}

	// One probe allowed, second rejected.
	if err := b.Allow(); err != nil {
		t.Fatalf("first probe should be allowed: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Error("second probe should be rejected")
	}
}

func TestRecoversOnProbeSuccess(t *testing.T) {
	b := New(Config{MinRequests: 1, TripRatio: 0.5, Cooldown: 5 * time.Millisecond, MaxProbes: 1})

	_ = b.Allow()
	b.Record(errBackend)
	time.Sleep(10 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.Record(nil)

	if b.GetState() != StateClosed {
		t.Errorf("expected CLOSED after successful probe, got %s", b.GetState())
	}
}

func TestReopensOnProbeFailure(t *testing.T) {
	b := New(Config{MinRequests: 1, TripRatio: 0.5, Cooldown: 5 * time.Millisecond, MaxProbes: 1})

	_ = b.Allow()
	b.Record(errBackend)
	time.Sleep(10 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.Record(errBackend)

	if b.GetState() != StateOpen {
		t.Errorf("expected OPEN after failed probe, got %s", b.GetState())
	}
}

func TestWindowResetClearsCounts(t *testing.T) {
	b := New(Config{MinRequests: 3, TripRatio: 0.5, Window: 10 * time.Millisecond})

	_ = b.Allow()
	b.Record(errBackend)
	_ = b.Allow()
	b.Record(errBackend)

	time.Sleep(20 * time.Millisecond)
	if b.GetState() != StateClosed {
		t.Fatalf("expected CLOSED, got %s", b.GetState())
	}

	counts := b.GetCounts()
	if counts.Failures != 0 || counts.Requests != 0 {
		t.Errorf("expected counts cleared after window, got %+v", counts)
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	var transitions []State
	b := New(Config{
		MinRequests: 1,
		TripRatio:   0.5,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	})

	_ = b.Allow()
	b.Record(errBackend)

	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("expected transition to OPEN, got %v", transitions)
	}
}

func TestReset(t *testing.T) {
	b := New(Config{MinRequests: 1, TripRatio: 0.5})

	_ = b.Allow()
	b.Record(errBackend)
	b.Reset()

	if b.GetState() != StateClosed {
		t.Errorf("expected CLOSED after reset, got %s", b.GetState())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("reset breaker should allow, got %v", err)
	}
}
