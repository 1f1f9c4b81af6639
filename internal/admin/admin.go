// Package admin provides admin API endpoints for runtime inspection and
// control of resilience policies. All endpoints are protected by IP
// allowlist; JWT bearer auth is layered on top when enabled.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dskow/resilience-core/circuitbreaker"
	"github.com/dskow/resilience-core/internal/apierror"
	"github.com/dskow/resilience-core/internal/config"
)

// Handler provides admin API endpoints.
type Handler struct {
	reloader    ConfigProvider
	registry    *circuitbreaker.Registry
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(
	reloader ConfigProvider,
	registry *circuitbreaker.Registry,
	allowlist []string,
	logger *slog.Logger,
) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		reloader:    reloader,
		registry:    registry,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux. The auth middleware is
// applied outside the IP allowlist guard so unauthorized clients never reach
// token validation.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, authMW func(http.Handler) http.Handler) {
	wrap := func(method string, fn http.HandlerFunc) http.Handler {
		return h.guard(method, authMW(fn))
	}
	mux.Handle("/admin/breakers", wrap(http.MethodGet, h.breakersHandler))
	mux.Handle("/admin/breakers/reset", wrap(http.MethodPost, h.resetHandler))
	mux.Handle("/admin/upstreams", wrap(http.MethodGet, h.upstreamsHandler))
	mux.Handle("/admin/config", wrap(http.MethodGet, h.configHandler))
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				"method not allowed")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.AdminForbidden,
				"client address not in admin allowlist")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// breakerStatus is the per-breaker entry in the /admin/breakers response.
type breakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	SuccessCount        int64     `json:"success_count"`
	FailureCount        int64     `json:"failure_count"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	ErrorRate           float64   `json:"error_rate"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	LastStateChange     time.Time `json:"last_state_change"`
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	statuses := make([]breakerStatus, 0, len(all))
	for name, cb := range all {
		stats := cb.Stats()
		statuses = append(statuses, breakerStatus{
			Name:                name,
			State:               stats.State.String(),
			SuccessCount:        stats.SuccessCount,
			FailureCount:        stats.FailureCount,
			ConsecutiveFailures: stats.ConsecutiveFailures,
			ErrorRate:           stats.ErrorRate(),
			AvgLatencyMs:        float64(stats.AvgLatency()) / float64(time.Millisecond),
			LastStateChange:     stats.LastStateChange,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": statuses})
}

// resetRequest is the POST /admin/breakers/reset body.
type resetRequest struct {
	Name string `json:"name"`
}

func (h *Handler) resetHandler(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.BadRequest,
			"request body must be JSON with a non-empty name field")
		return
	}

	if !h.registry.Reset(req.Name) {
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.BreakerNotFound,
			"no circuit breaker named "+req.Name)
		return
	}

	h.logger.Info("circuit breaker reset via admin API", "name", req.Name)
	writeJSON(w, http.StatusOK, map[string]string{
		"name":   req.Name,
		"status": "reset",
	})
}

// upstreamStatus is the per-upstream entry in the /admin/upstreams response.
type upstreamStatus struct {
	Name          string        `json:"name"`
	URL           string        `json:"url"`
	ProbeInterval time.Duration `json:"probe_interval"`
	BreakerState  string        `json:"breaker_state"`
}

func (h *Handler) upstreamsHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()
	breakers := h.registry.All()

	statuses := make([]upstreamStatus, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		state := "unknown"
		if cb, ok := breakers[u.Name]; ok {
			state = cb.State().String()
		}
		statuses[i] = upstreamStatus{
			Name:          u.Name,
			URL:           u.URL,
			ProbeInterval: u.ProbeInterval,
			BreakerState:  state,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"upstreams": statuses})
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.reloader.Current()

	// Shallow copy and redact sensitive fields.
	redacted := *cfg
	if redacted.Admin.Auth.JWTSecret != "" {
		redacted.Admin.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
