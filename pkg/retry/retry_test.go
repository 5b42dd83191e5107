package retry

import (
	"context"
	"testing"
	"time"

	"github.com/robocache/robocache/pkg/errors"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeBackendUnavailable, "connection refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrCodeObjectNotFound, "no such key")
	})

	if errors.CodeOf(err) != errors.ErrCodeObjectNotFound {
		t.Fatalf("expected OBJECT_NOT_FOUND, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrCodeBackendTimeout, "deadline exceeded")
	})

	if errors.CodeOf(err) != errors.ErrCodeBackendTimeout {
		t.Fatalf("expected last error returned unchanged, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	r := New(Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, Jitter: false})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrCodeBackendUnavailable, "down")
	})

	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls >= 10 {
		t.Errorf("expected cancellation to stop retries early, got %d calls", calls)
	}
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	r := New(Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Jitter:       false,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	})

	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return errors.New(errors.ErrCodeBackendTimeout, "slow")
	})

	if len(attempts) != 2 {
		t.Errorf("expected 2 retry callbacks, got %d", len(attempts))
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	})

	if d := r.delayFor(1); d != 10*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want 10ms", d)
	}
	if d := r.delayFor(2); d != 20*time.Millisecond {
		t.Errorf("attempt 2 delay = %v, want 20ms", d)
	}
	if d := r.delayFor(3); d != 25*time.Millisecond {
		t.Errorf("attempt 3 delay = %v, want capped 25ms", d)
	}
}
