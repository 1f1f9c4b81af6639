package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustPolicy(t *testing.T, cfg Config) *Policy {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPolicy_DelaySchedule(t *testing.T) {
	p := mustPolicy(t, Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		Multiplier: 2.0,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
	for n, w := range want {
		if got := p.Delay(n); got != w {
			t.Errorf("Delay(%d) = %s, want %s", n, got, w)
		}
	}
}

func TestPolicy_DelayNonDecreasingAndCapped(t *testing.T) {
	p := mustPolicy(t, Config{
		MaxRetries: 10,
		BaseDelay:  50 * time.Millisecond,
		Multiplier: 3.0,
		MaxDelay:   time.Second,
	})

	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %s decreased from %s", n, d, prev)
		}
		if d > time.Second {
			t.Fatalf("Delay(%d) = %s exceeds MaxDelay", n, d)
		}
		prev = d
	}
}

func TestPolicy_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero base delay", Config{MaxRetries: 1}},
		{"negative base delay", Config{MaxRetries: 1, BaseDelay: -time.Second}},
		{"negative max retries", Config{MaxRetries: -1, BaseDelay: time.Millisecond}},
		{"multiplier below one", Config{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 0.5}},
		{"negative max delay", Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: -time.Second}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Errorf("%s: expected construction error", tc.name)
		}
	}
}

func TestPolicy_ZeroRetriesMeansOneAttempt(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: 0, BaseDelay: time.Millisecond})

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected the error to surface")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestPolicy_DoRetriesUntilSuccess(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: 5, BaseDelay: time.Millisecond})

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPolicy_DoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := mustPolicy(t, Config{
		MaxRetries: 5,
		BaseDelay:  time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, fatal) },
	})

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries of a non-retryable error, got %d attempts", calls)
	}
}

func TestPolicy_DoHonoursContextDuringBackoff(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not abort the backoff on cancellation")
	}
}

func TestPolicy_FullJitterDeterministicWithSeed(t *testing.T) {
	newSeeded := func() *Policy {
		p := mustPolicy(t, Config{
			MaxRetries: 3,
			BaseDelay:  100 * time.Millisecond,
			Jitter:     true,
		})
		p.Seed(42)
		return p
	}

	a, b := newSeeded(), newSeeded()
	for n := 0; n < 5; n++ {
		da, db := a.Delay(n), b.Delay(n)
		if da != db {
			t.Fatalf("Delay(%d) not deterministic under a fixed seed: %s vs %s", n, da, db)
		}
		// Full jitter draws from [0, deterministic delay).
		if max := 100 * time.Millisecond << n; da < 0 || da >= max {
			t.Fatalf("Delay(%d) = %s outside [0, %s)", n, da, max)
		}
	}
}

func TestPolicy_CustomJitterFunc(t *testing.T) {
	p := mustPolicy(t, Config{
		MaxRetries: 1,
		BaseDelay:  100 * time.Millisecond,
		Jitter:     true,
		JitterFunc: func(d time.Duration, _ func() float64) time.Duration {
			return d / 2
		},
	})
	if got, want := p.Delay(0), 50*time.Millisecond; got != want {
		t.Fatalf("Delay(0) = %s, want %s", got, want)
	}
}

func TestPolicy_AttemptsIterator(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: 2, BaseDelay: time.Millisecond})

	var seen []int
	for attempt := range p.Attempts(context.Background()) {
		seen = append(seen, attempt)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("expected attempts [0 1 2], got %v", seen)
	}

	// Breaking on success stops the iteration without spending the budget.
	var count int
	for range p.Attempts(context.Background()) {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("expected a single yield before break, got %d", count)
	}
}

func TestPolicy_Wrap(t *testing.T) {
	p := mustPolicy(t, Config{MaxRetries: 2, BaseDelay: time.Millisecond})

	calls := 0
	wrapped := p.Wrap(func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	if err := wrapped(context.Background()); err != nil {
		t.Fatalf("expected wrapped call to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
