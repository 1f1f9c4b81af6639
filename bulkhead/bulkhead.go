// Package bulkhead provides a concurrency limiter that isolates resource
// usage so one overloaded dependency cannot exhaust shared capacity.
// Admission is a counting semaphore with an optional bounded wait queue;
// rejection is signalled with ErrBulkheadFull rather than unbounded
// blocking or goroutine pileups.
package bulkhead

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dskow/resilience-core/internal/metrics"
)

// ErrBulkheadFull is returned when no concurrency slot and no queue
// position is available, or when the queue wait times out. It signals
// backpressure: treat it as "reject this request" or "try again later",
// never as a transient to retry within the same call. Match it with
// errors.Is.
var ErrBulkheadFull = errors.New("bulkhead is full")

// Config holds bulkhead settings.
type Config struct {
	// MaxConcurrent is the number of concurrency slots. Must be positive.
	MaxConcurrent int

	// MaxQueue is the number of callers allowed to wait for a slot when
	// the pool is full. Zero means reject immediately.
	MaxQueue int

	// Timeout bounds how long a queued caller waits for a slot. Zero
	// means wait until the caller's context is done.
	Timeout time.Duration
}

// Bulkhead bounds the number of concurrent in-flight operations against a
// named resource. Created once per resource and shared by many callers;
// all methods are safe for concurrent use.
type Bulkhead struct {
	name    string
	sem     chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	waiters  int
	maxQueue int
}

// New creates a bulkhead for the named resource. Invalid parameters are
// rejected here, never clamped.
func New(name string, cfg Config) (*Bulkhead, error) {
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("bulkhead: max_concurrent must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxQueue < 0 {
		return nil, fmt.Errorf("bulkhead: max_queue must be non-negative, got %d", cfg.MaxQueue)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("bulkhead: timeout must be non-negative, got %s", cfg.Timeout)
	}
	return &Bulkhead{
		name:     name,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		timeout:  cfg.Timeout,
		maxQueue: cfg.MaxQueue,
	}, nil
}

// Name returns the bulkhead's resource name.
func (b *Bulkhead) Name() string { return b.name }

// TryAcquire takes a slot without waiting. If it returns true the caller
// MUST call Release exactly once when the work completes.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.name).Set(float64(len(b.sem)))
		return true
	default:
		metrics.BulkheadRejections.WithLabelValues(b.name).Inc()
		return false
	}
}

// Acquire takes a slot, queueing up to MaxQueue waiters when the pool is
// full. It returns an error wrapping ErrBulkheadFull when the queue is
// full or the configured timeout elapses, and ctx.Err() when the context
// is done first. On a nil return the caller MUST call Release exactly
// once when the work completes.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	// Fast path: a slot is free.
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.name).Set(float64(len(b.sem)))
		return nil
	default:
	}

	b.mu.Lock()
	if b.waiters >= b.maxQueue {
		b.mu.Unlock()
		metrics.BulkheadRejections.WithLabelValues(b.name).Inc()
		return fmt.Errorf("bulkhead %q: no slot and queue is full: %w", b.name, ErrBulkheadFull)
	}
	b.waiters++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.waiters--
		b.mu.Unlock()
	}()

	var timeoutCh <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.name).Set(float64(len(b.sem)))
		return nil
	case <-timeoutCh:
		metrics.BulkheadRejections.WithLabelValues(b.name).Inc()
		return fmt.Errorf("bulkhead %q: queue wait timed out after %s: %w", b.name, b.timeout, ErrBulkheadFull)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must be called exactly once for every TryAcquire
// that returned true and every Acquire that returned nil.
func (b *Bulkhead) Release() {
	<-b.sem
	metrics.BulkheadInFlight.WithLabelValues(b.name).Set(float64(len(b.sem)))
}

// InFlight returns the number of currently held slots.
func (b *Bulkhead) InFlight() int {
	return len(b.sem)
}

// Do acquires a slot, runs fn, and always releases the slot — the
// enter/exit form of Acquire/Release.
func (b *Bulkhead) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn(ctx)
}
