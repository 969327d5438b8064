package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	exec := NewExecutor(fastPolicy(3), nil, nil)

	cause := errors.New("rpc unreachable")
	calls := 0
	err := exec.Do(context.Background(), "probe", func(context.Context) error {
		calls++
		return cause
	})

	if calls != 3 {
		t.Fatalf("operation invoked %d times, want 3", calls)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("exhausted error should wrap the last cause")
	}
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), nil, nil)

	calls := 0
	err := exec.Do(context.Background(), "probe", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("operation invoked %d times, want 3", calls)
	}
}

func TestDoSucceedsImmediately(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), nil, nil)

	calls := 0
	if err := exec.Do(context.Background(), "probe", func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("operation invoked %d times, want 1", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	exec := NewExecutor(fastPolicy(5), nil, nil)

	cause := errors.New("insufficient balance")
	calls := 0
	err := exec.Do(context.Background(), "probe", func(context.Context) error {
		calls++
		return Permanent(cause)
	})

	if calls != 1 {
		t.Fatalf("permanent error retried: %d calls", calls)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatalf("permanence lost through the executor")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	exec := NewExecutor(Policy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := exec.Do(ctx, "probe", func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	p := Policy{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}.normalized()

	delay := p.InitialDelay
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		if delay < prev {
			t.Fatalf("backoff decreased: %s after %s", delay, prev)
		}
		if delay > p.MaxDelay {
			t.Fatalf("backoff %s exceeds cap %s", delay, p.MaxDelay)
		}
		prev = delay
		delay = nextDelay(p, delay)
	}
	if delay != p.MaxDelay {
		t.Fatalf("backoff should settle at the cap, got %s", delay)
	}
}

func TestPolicyNormalization(t *testing.T) {
	p := Policy{}.normalized()
	if p.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 || p.MaxDelay <= 0 {
		t.Fatalf("delays not normalized: %+v", p)
	}
	if p.Multiplier < 1 {
		t.Fatalf("multiplier not normalized: %v", p.Multiplier)
	}
}
