// Package probe runs periodic health probes against configured upstreams.
// Each probe passes through the upstream's resilience guard, so probe
// outcomes drive the circuit breaker state that the health and admin
// endpoints report.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	resilience "github.com/dskow/resilience-core"
	"github.com/dskow/resilience-core/bulkhead"
	"github.com/dskow/resilience-core/circuitbreaker"
	"github.com/dskow/resilience-core/internal/metrics"
	"golang.org/x/time/rate"
)

// Target is one upstream to probe.
type Target struct {
	Name     string
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Guard    *resilience.Guard
}

// Prober drives one probe loop per target. Probe pacing uses a rate limiter
// rather than a ticker so a slow probe never causes a burst of catch-up
// probes afterwards.
type Prober struct {
	targets []Target
	client  *http.Client
	logger  *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Prober for the given targets. client may be nil, in which
// case a default client with no global timeout is used (per-probe timeouts
// come from each target's context).
func New(targets []Target, client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{targets: targets, client: client, logger: logger}
}

// Start launches the probe loops. It returns immediately; loops run until
// Stop is called or ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, t := range p.targets {
		p.wg.Add(1)
		go p.loop(ctx, t)
	}

	p.logger.Info("prober started", "targets", len(p.targets))
}

// Stop cancels all probe loops and waits for them to exit.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("prober stopped")
}

func (p *Prober) loop(ctx context.Context, t Target) {
	defer p.wg.Done()

	limiter := rate.NewLimiter(rate.Every(t.Interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		p.probeOnce(ctx, t)
	}
}

// probeOnce runs a single guarded probe and records its outcome.
func (p *Prober) probeOnce(ctx context.Context, t Target) {
	probeCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	err := t.Guard.Do(probeCtx, func(ctx context.Context) error {
		return p.check(ctx, t.URL)
	})

	switch {
	case err == nil:
		metrics.ProbesTotal.WithLabelValues(t.Name, "success").Inc()
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, bulkhead.ErrBulkheadFull):
		metrics.ProbesTotal.WithLabelValues(t.Name, "rejected").Inc()
		p.logger.Debug("probe rejected", "upstream", t.Name, "error", err)
	default:
		metrics.ProbesTotal.WithLabelValues(t.Name, "failure").Inc()
		p.logger.Warn("probe failed", "upstream", t.Name, "error", err)
	}
}

// check performs the HTTP GET against the upstream. A transport error or a
// 5xx response counts as a failure; anything else means the upstream is up.
func (p *Prober) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}
