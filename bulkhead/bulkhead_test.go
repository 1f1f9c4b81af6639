package bulkhead

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dskow/resilience-core/internal/metrics"
)

func init() {
	// Register metrics once for all tests in this package.
	metrics.Init()
}

func mustBulkhead(t *testing.T, cfg Config) *Bulkhead {
	t.Helper()
	b, err := New("test-pool", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestBulkhead_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero max concurrent", Config{}},
		{"negative max concurrent", Config{MaxConcurrent: -1}},
		{"negative max queue", Config{MaxConcurrent: 1, MaxQueue: -1}},
		{"negative timeout", Config{MaxConcurrent: 1, Timeout: -time.Second}},
	}
	for _, tc := range cases {
		if _, err := New("bad", tc.cfg); err == nil {
			t.Errorf("%s: expected construction error", tc.name)
		}
	}
}

func TestBulkhead_RejectsBeyondCapacityWithoutQueue(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 2})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	// No slot, no queue: immediate rejection.
	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull, got %v", err)
	}

	b.Release()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}

func TestBulkhead_TryAcquire(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1})

	if !b.TryAcquire() {
		t.Fatal("expected TryAcquire to succeed")
	}
	if b.TryAcquire() {
		t.Fatal("expected TryAcquire to fail at capacity")
	}
	b.Release()
	if !b.TryAcquire() {
		t.Fatal("expected TryAcquire after Release")
	}
}

func TestBulkhead_QueuedWaiterGetsSlot(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1, MaxQueue: 1})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() { got <- b.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	b.Release()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("expected the queued waiter to acquire, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued waiter never acquired a slot")
	}
}

func TestBulkhead_QueueCapacityBound(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1, MaxQueue: 1, Timeout: time.Second})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Fill the single queue position.
	waiting := make(chan error, 1)
	go func() { waiting <- b.Acquire(ctx) }()
	time.Sleep(20 * time.Millisecond)

	// Second waiter finds the queue full.
	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull for the second waiter, got %v", err)
	}

	b.Release()
	if err := <-waiting; err != nil {
		t.Fatalf("queued waiter: %v", err)
	}
}

func TestBulkhead_QueueWaitTimeout(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1, MaxQueue: 1, Timeout: 30 * time.Millisecond})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	start := time.Now()
	err := b.Acquire(ctx)
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("expected the waiter to wait out the timeout, returned after %s", elapsed)
	}
}

func TestBulkhead_ContextCancelWhileQueued(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1, MaxQueue: 1})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() { got <- b.Acquire(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-got:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued Acquire did not honour cancellation")
	}
}

func TestBulkhead_ConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 5
	b := mustBulkhead(t, Config{MaxConcurrent: limit})

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !b.TryAcquire() {
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			b.Release()
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Fatalf("observed %d concurrent holders, limit is %d", peak, limit)
	}
	if b.InFlight() != 0 {
		t.Fatalf("expected all slots released, %d still held", b.InFlight())
	}
}

func TestBulkhead_DoAlwaysReleases(t *testing.T) {
	b := mustBulkhead(t, Config{MaxConcurrent: 1})
	ctx := context.Background()

	opErr := errors.New("boom")
	if err := b.Do(ctx, func(context.Context) error { return opErr }); !errors.Is(err, opErr) {
		t.Fatalf("expected the operation error, got %v", err)
	}
	if b.InFlight() != 0 {
		t.Fatal("expected the slot released after a failed operation")
	}

	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if b.InFlight() != 0 {
		t.Fatal("expected the slot released after a successful operation")
	}
}
