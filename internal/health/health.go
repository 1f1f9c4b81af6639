// Package health provides liveness and readiness probe HTTP handlers for
// the resilienced daemon.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dskow/resilience-core/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Handler provides /health and /ready endpoints.
type Handler struct {
	registry *circuitbreaker.Registry
	logger   *slog.Logger
}

// New creates a new health check Handler. Readiness is derived from the
// breaker states in the registry; the prober keeps those states current,
// so no network calls are made here.
func New(registry *circuitbreaker.Registry, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

// readiness reports 503 only when every upstream's circuit is open. A single
// failing upstream degrades the body but not the status code, so one bad
// dependency does not take the daemon out of rotation.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	breakers := h.registry.All()

	upstreams := make(map[string]string, len(breakers))
	openCount := 0
	for name, cb := range breakers {
		st := cb.State()
		upstreams[name] = st.String()
		if st == circuitbreaker.StateOpen {
			openCount++
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if len(breakers) > 0 && openCount == len(breakers) {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":    statusStr,
		"upstreams": upstreams,
	})
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
