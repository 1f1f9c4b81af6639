// Package resilience composes the circuit breaker, bulkhead, and retry
// primitives into a single per-resource guard. A guarded call first takes
// a bulkhead slot, then passes breaker admission, then runs; the outcome
// is reported back to the breaker, and the retry policy — when configured —
// governs re-attempts across failures.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dskow/resilience-core/bulkhead"
	"github.com/dskow/resilience-core/circuitbreaker"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/retry"
)

// Config assembles the per-resource policies. Breaker settings are always
// applied; a nil Bulkhead or Retry disables that layer.
type Config struct {
	Breaker  circuitbreaker.Config
	Bulkhead *bulkhead.Config
	Retry    *retry.Config
}

// Guard protects one named resource. Create it once and share it between
// callers; all methods are safe for concurrent use.
type Guard struct {
	name     string
	breaker  *circuitbreaker.CircuitBreaker
	bulkhead *bulkhead.Bulkhead
	retry    *retry.Policy
	logger   *slog.Logger
}

// New builds a guard for the named resource. When reg is non-nil the
// breaker is created in (or fetched from) the registry so admin tooling
// can see and reset it; otherwise the guard owns a standalone breaker.
// Invalid policy parameters fail here.
func New(name string, cfg Config, reg *circuitbreaker.Registry, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		cb  *circuitbreaker.CircuitBreaker
		err error
	)
	if reg != nil {
		cb, err = reg.GetWithConfig(name, cfg.Breaker)
	} else {
		cb, err = circuitbreaker.New(name, cfg.Breaker, logger)
	}
	if err != nil {
		return nil, err
	}

	g := &Guard{name: name, breaker: cb, logger: logger}

	if cfg.Bulkhead != nil {
		g.bulkhead, err = bulkhead.New(name, *cfg.Bulkhead)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Retry != nil {
		rc := *cfg.Retry
		if rc.Retryable == nil {
			rc.Retryable = DefaultRetryable
		}
		g.retry, err = retry.New(rc)
		if err != nil {
			return nil, err
		}
	}

	return g, nil
}

// DefaultRetryable is the retry predicate installed when a guard's retry
// config leaves Retryable nil. Backpressure signals and context errors are
// not transient: retrying an open circuit would defeat its cooldown, and a
// full bulkhead means shed load, not hammer it.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, bulkhead.ErrBulkheadFull) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Name returns the guarded resource name.
func (g *Guard) Name() string { return g.name }

// Breaker exposes the underlying circuit breaker for inspection and reset.
func (g *Guard) Breaker() *circuitbreaker.CircuitBreaker { return g.breaker }

// Bulkhead exposes the underlying bulkhead, or nil when disabled.
func (g *Guard) Bulkhead() *bulkhead.Bulkhead { return g.bulkhead }

// Reset forces the breaker back to closed with zeroed stats.
func (g *Guard) Reset() { g.breaker.Reset() }

// Do runs fn under all configured policies. The caller sees either a nil
// error, fn's own error unchanged, or a backpressure error matching
// circuitbreaker.ErrCircuitOpen or bulkhead.ErrBulkheadFull — never an
// opaque wrapper hiding the cause.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if g.retry == nil {
		return g.once(ctx, fn)
	}

	attempt := 0
	return g.retry.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(g.name).Inc()
			g.logger.Debug("retrying guarded call", "name", g.name, "attempt", attempt)
		}
		attempt++
		return g.once(ctx, fn)
	})
}

// once makes a single pass: bulkhead admission, breaker admission,
// execute, record. The bulkhead slot is released on every path.
func (g *Guard) once(ctx context.Context, fn func(context.Context) error) error {
	if g.bulkhead != nil {
		if err := g.bulkhead.Acquire(ctx); err != nil {
			metrics.CallDuration.WithLabelValues(g.name, "rejected").Observe(0)
			return err
		}
		defer g.bulkhead.Release()
	}

	start := time.Now()
	err := g.breaker.Do(ctx, fn)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.CallDuration.WithLabelValues(g.name, "success").Observe(elapsed.Seconds())
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.CallDuration.WithLabelValues(g.name, "rejected").Observe(elapsed.Seconds())
	default:
		metrics.CallDuration.WithLabelValues(g.name, "error").Observe(elapsed.Seconds())
	}
	return err
}
