package probe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	resilience "github.com/dskow/resilience-core"
	"github.com/dskow/resilience-core/circuitbreaker"
	"github.com/dskow/resilience-core/internal/metrics"
)

func init() {
	metrics.Init()
}

func newTestGuard(t *testing.T, name string) *resilience.Guard {
	t.Helper()
	g, err := resilience.New(name, resilience.Config{
		Breaker: circuitbreaker.Config{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			ResetTimeout:     time.Minute,
		},
	}, nil, slog.Default())
	if err != nil {
		t.Fatalf("failed to create guard: %v", err)
	}
	return g
}

func newTarget(name, url string, g *resilience.Guard) Target {
	return Target{
		Name:     name,
		URL:      url,
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		Guard:    g,
	}
}

func TestProbeOnce_SuccessKeepsBreakerClosed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	g := newTestGuard(t, "probe-success")
	p := New(nil, nil, slog.Default())

	for i := 0; i < 5; i++ {
		p.probeOnce(context.Background(), newTarget("probe-success", upstream.URL, g))
	}

	if g.Breaker().State() != circuitbreaker.StateClosed {
		t.Errorf("expected breaker closed, got %v", g.Breaker().State())
	}
	if got := g.Breaker().Stats().SuccessCount; got != 5 {
		t.Errorf("expected 5 successes, got %d", got)
	}
}

func TestProbeOnce_ServerErrorsOpenBreaker(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	g := newTestGuard(t, "probe-failure")
	p := New(nil, nil, slog.Default())

	for i := 0; i < 3; i++ {
		p.probeOnce(context.Background(), newTarget("probe-failure", upstream.URL, g))
	}

	if g.Breaker().State() != circuitbreaker.StateOpen {
		t.Errorf("expected breaker open after repeated failures, got %v", g.Breaker().State())
	}

	// Further probes are rejected by the open circuit without reaching
	// the upstream; the breaker stays open.
	p.probeOnce(context.Background(), newTarget("probe-failure", upstream.URL, g))
	if g.Breaker().State() != circuitbreaker.StateOpen {
		t.Errorf("expected breaker to remain open, got %v", g.Breaker().State())
	}
}

func TestProbeOnce_ClientErrorIsNotFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	g := newTestGuard(t, "probe-4xx")
	p := New(nil, nil, slog.Default())

	for i := 0; i < 5; i++ {
		p.probeOnce(context.Background(), newTarget("probe-4xx", upstream.URL, g))
	}

	if g.Breaker().State() != circuitbreaker.StateClosed {
		t.Errorf("expected 4xx responses to keep breaker closed, got %v", g.Breaker().State())
	}
}

func TestProbeOnce_UnreachableUpstreamIsFailure(t *testing.T) {
	g := newTestGuard(t, "probe-unreachable")
	p := New(nil, nil, slog.Default())

	// Port 1 is essentially guaranteed to refuse connections.
	for i := 0; i < 3; i++ {
		p.probeOnce(context.Background(), newTarget("probe-unreachable", "http://127.0.0.1:1", g))
	}

	if g.Breaker().State() != circuitbreaker.StateOpen {
		t.Errorf("expected breaker open, got %v", g.Breaker().State())
	}
}

func TestProber_StartStop(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	g := newTestGuard(t, "probe-loop")
	p := New([]Target{newTarget("probe-loop", upstream.URL, g)}, nil, slog.Default())

	p.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	if hits.Load() == 0 {
		t.Error("expected at least one probe to reach the upstream")
	}

	// No probes after Stop returns.
	settled := hits.Load()
	time.Sleep(50 * time.Millisecond)
	if hits.Load() != settled {
		t.Error("probe loop kept running after Stop")
	}
}
