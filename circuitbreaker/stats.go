package circuitbreaker

import "time"

// Stats is a point-in-time snapshot of a breaker's counters. Returned by
// CircuitBreaker.Stats; the breaker's internal counters are never exposed
// directly and are mutated only under the breaker's lock.
type Stats struct {
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int64
	LatencyTotal        time.Duration
	State               State
	LastStateChange     time.Time
}

// Total returns the number of recorded outcomes.
func (s Stats) Total() int64 {
	return s.SuccessCount + s.FailureCount
}

// ErrorRate returns the lifetime failure ratio in [0, 1].
// Returns 0 when nothing has been recorded.
func (s Stats) ErrorRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.FailureCount) / float64(total)
}

// AvgLatency returns the mean recorded call latency.
// Returns 0 when nothing has been recorded.
func (s Stats) AvgLatency() time.Duration {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return s.LatencyTotal / time.Duration(total)
}
