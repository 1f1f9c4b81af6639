// Package circuitbreaker implements a named, lock-protected circuit breaker
// state machine for shielding callers from failing dependencies. A breaker
// trips open after a run of consecutive failures or, when configured, when
// the failure ratio over a sliding window of recent outcomes crosses a
// threshold. After a reset timeout it admits a bounded number of probe
// calls before closing again.
package circuitbreaker

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; limited requests allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
