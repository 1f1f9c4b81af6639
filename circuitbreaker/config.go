package circuitbreaker

import (
	"fmt"
	"time"
)

// Default configuration values applied to zero-value Config fields.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
	DefaultWindowSize       = 10
)

// Config holds circuit breaker settings. The consecutive-failure trip
// condition is always active. The error-rate trip condition is enabled
// only when ErrorRateThreshold is non-zero; the two are independent —
// either alone trips the breaker.
//
// Zero-value fields receive the package defaults. Negative or out-of-range
// values are rejected at construction, never clamped.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the
	// closed state that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// Allow call transitions it to half-open.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls caps the number of concurrently in-flight probe
	// calls admitted while half-open. Further requests are rejected
	// until a probe completes.
	HalfOpenMaxCalls int

	// ErrorRateThreshold, when in (0, 1], opens the circuit once the
	// failure ratio over a full window of WindowSize outcomes reaches
	// it. Zero disables the error-rate condition.
	ErrorRateThreshold float64

	// WindowSize is the number of recent outcomes kept for the
	// error-rate condition. Ignored when ErrorRateThreshold is zero.
	WindowSize int
}

// withDefaults returns a copy of c with zero-value fields replaced by the
// package defaults.
func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	return c
}

// validate reports the first invalid field. Called after withDefaults, so
// only genuinely invalid values (not omissions) reach it.
func (c Config) validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("circuitbreaker: failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("circuitbreaker: success_threshold must be positive, got %d", c.SuccessThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("circuitbreaker: reset_timeout must be positive, got %s", c.ResetTimeout)
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("circuitbreaker: half_open_max_calls must be positive, got %d", c.HalfOpenMaxCalls)
	}
	if c.ErrorRateThreshold < 0 || c.ErrorRateThreshold > 1 {
		return fmt.Errorf("circuitbreaker: error_rate_threshold must be in [0, 1], got %g", c.ErrorRateThreshold)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("circuitbreaker: window_size must be positive, got %d", c.WindowSize)
	}
	return nil
}
