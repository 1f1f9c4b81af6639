package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/resilience-core/internal/metrics"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open or the half-open probe budget is exhausted. It is an expected
// backpressure signal, not a bug: the protected resource is recovering and
// should not be called right now. Match it with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a per-resource gate that stops calls to a failing
// dependency and periodically probes for recovery. One instance protects
// one named resource for the lifetime of the process, typically held in a
// Registry. All methods are safe for concurrent use.
//
// Callers either use Do, or drive the breaker manually: every Allow that
// returns true must be paired with exactly one RecordSuccess or
// RecordFailure — half-open probe accounting depends on the pairing.
type CircuitBreaker struct {
	mu sync.Mutex

	name   string
	cfg    Config
	logger *slog.Logger

	state            State
	window           *window
	openedAt         time.Time
	lastStateChange  time.Time
	halfOpenInFlight int
	halfOpenSuccess  int

	successCount        int64
	failureCount        int64
	consecutiveFailures int64
	latencyTotal        time.Duration

	// now is the clock, overridable for testing.
	now func() time.Time
}

// New creates a circuit breaker for the named resource. Zero-value cfg
// fields receive package defaults; invalid values are rejected here rather
// than clamped. A nil logger falls back to slog.Default.
func New(name string, cfg Config, logger *slog.Logger) (*CircuitBreaker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		name:            name,
		cfg:             cfg,
		logger:          logger,
		state:           StateClosed,
		window:          newWindow(cfg.WindowSize),
		lastStateChange: time.Now(),
		now:             time.Now,
	}, nil
}

// Name returns the breaker's resource name.
func (b *CircuitBreaker) Name() string { return b.name }

// Allow reports whether the caller may proceed. It never blocks. An open
// circuit whose reset timeout has elapsed transitions to half-open here,
// admitting the caller as the first probe; there is no background timer.
// If Allow returns true the caller MUST record the outcome with exactly
// one RecordSuccess or RecordFailure call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenInFlight = 1
			return true
		}
		metrics.BreakerRejections.WithLabelValues(b.name).Inc()
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			metrics.BreakerRejections.WithLabelValues(b.name).Inc()
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call with its latency and drives state
// transitions: enough consecutive half-open successes close the circuit.
func (b *CircuitBreaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.latencyTotal += latency
	b.consecutiveFailures = 0

	switch b.state {
	case StateClosed:
		b.window.record(false)
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call with its latency and drives state
// transitions: a threshold run of failures (or, when configured, a window
// failure ratio) opens a closed circuit; any half-open failure re-opens it
// immediately, discarding the partial success streak.
func (b *CircuitBreaker) RecordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.latencyTotal += latency
	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		b.window.record(true)
		if b.tripped() {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.transitionTo(StateOpen)
	}
}

// tripped evaluates the closed-state trip conditions. The consecutive-failure
// and error-rate conditions are independent: either alone opens the circuit.
// Must be called with b.mu held.
func (b *CircuitBreaker) tripped() bool {
	if b.consecutiveFailures >= int64(b.cfg.FailureThreshold) {
		return true
	}
	if b.cfg.ErrorRateThreshold > 0 && b.window.full() &&
		b.window.failureRate() >= b.cfg.ErrorRateThreshold {
		return true
	}
	return false
}

// State returns the current circuit breaker state. It does not perform the
// open-to-half-open timeout check; that happens lazily on Allow.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		SuccessCount:        b.successCount,
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		LatencyTotal:        b.latencyTotal,
		State:               b.state,
		LastStateChange:     b.lastStateChange,
	}
}

// Reset forces the breaker back to closed and zeroes all stats, regardless
// of the current state. Used for manual recovery and in tests.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateClosed)
	b.window.reset()
	b.successCount = 0
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.latencyTotal = 0
	b.halfOpenSuccess = 0
	b.halfOpenInFlight = 0
}

// Do runs fn through the breaker. If the call is not admitted it returns
// an error wrapping ErrCircuitOpen without invoking fn. Otherwise it times
// the call, records the outcome, and propagates fn's error unchanged —
// application errors are never swallowed or wrapped.
func (b *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("circuit %q: %w", b.name, ErrCircuitOpen)
	}

	start := time.Now()
	err := fn(ctx)
	latency := time.Since(start)

	if err != nil {
		b.RecordFailure(latency)
	} else {
		b.RecordSuccess(latency)
	}
	return err
}

// UpdateConfig swaps in new thresholds at runtime (e.g. on config
// hot-reload). The window is cleared only when its size changes.
func (b *CircuitBreaker) UpdateConfig(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	resize := cfg.WindowSize != b.cfg.WindowSize
	b.cfg = cfg
	if resize {
		b.window.resize(cfg.WindowSize)
	}
	return nil
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *CircuitBreaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState
	b.lastStateChange = b.now()

	metrics.BreakerTransitions.WithLabelValues(b.name, from.String(), newState.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"name", b.name,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.window.reset()
		b.consecutiveFailures = 0
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	case StateOpen:
		b.openedAt = b.now()
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	case StateHalfOpen:
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	}
}
