// Package metrics provides Prometheus instrumentation for the resilience
// layer and the resilienced daemon. All metric collectors are registered
// via the Init function and exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreakerState tracks the current state of each circuit breaker
	// (0 = closed, 1 = open, 2 = half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// BreakerTransitions counts state transitions by breaker name and edge.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// BreakerRejections counts requests rejected because a breaker was open
	// or its half-open probe budget was exhausted.
	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_rejections_total",
			Help: "Total requests rejected by an open circuit breaker",
		},
		[]string{"name"},
	)

	// BulkheadInFlight tracks currently held concurrency slots per bulkhead.
	BulkheadInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_bulkhead_in_flight",
			Help: "Currently held bulkhead concurrency slots",
		},
		[]string{"name"},
	)

	// BulkheadRejections counts acquisitions rejected for lack of a slot
	// and queue capacity, or because the queue wait timed out.
	BulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_bulkhead_rejections_total",
			Help: "Total bulkhead admission rejections",
		},
		[]string{"name"},
	)

	// RetryAttempts counts retry attempts (not first attempts) per guard.
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retry_attempts_total",
			Help: "Total retry attempts after a failed first attempt",
		},
		[]string{"name"},
	)

	// CallDuration observes guarded call latency in seconds by outcome.
	CallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_call_duration_seconds",
			Help:    "Guarded call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name", "outcome"},
	)

	// ProbesTotal counts upstream probes by upstream and result.
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_probes_total",
			Help: "Total upstream health probes",
		},
		[]string{"upstream", "result"},
	)

	// AuthFailures counts admin authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_auth_failures_total",
			Help: "Total admin authentication failures",
		},
		[]string{"reason"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		BreakerState,
		BreakerTransitions,
		BreakerRejections,
		BulkheadInFlight,
		BulkheadRejections,
		RetryAttempts,
		CallDuration,
		ProbesTotal,
		AuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
