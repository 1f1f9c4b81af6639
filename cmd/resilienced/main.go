// Package main is the entry point for resilienced, the resilience daemon.
// It loads configuration, builds a guarded prober per upstream, exposes
// health, metrics, and admin endpoints, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	resilience "github.com/dskow/resilience-core"
	"github.com/dskow/resilience-core/bulkhead"
	"github.com/dskow/resilience-core/circuitbreaker"
	"github.com/dskow/resilience-core/internal/admin"
	"github.com/dskow/resilience-core/internal/auth"
	"github.com/dskow/resilience-core/internal/config"
	"github.com/dskow/resilience-core/internal/health"
	"github.com/dskow/resilience-core/internal/logging"
	"github.com/dskow/resilience-core/internal/metrics"
	"github.com/dskow/resilience-core/internal/middleware"
	"github.com/dskow/resilience-core/internal/probe"
	"github.com/dskow/resilience-core/internal/tlsutil"
	"github.com/dskow/resilience-core/retry"
)

func main() {
	configPath := flag.String("config", "configs/resilienced.yaml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger until the configured one is ready.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"upstreams", len(cfg.Upstreams),
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"metrics_path", cfg.Metrics.Path,
		"tls_enabled", cfg.Server.TLS.Enabled,
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Registry holds every upstream's breaker so health and admin endpoints
	// see the same instances the prober drives.
	registry, err := circuitbreaker.NewRegistry(toBreakerConfig(cfg.Defaults.Breaker), logger)
	if err != nil {
		logger.Error("invalid default breaker config", "error", err)
		os.Exit(1)
	}

	targets, err := buildTargets(cfg, registry, logger)
	if err != nil {
		logger.Error("failed to build upstream guards", "error", err)
		os.Exit(1)
	}

	prober := probe.New(targets, &http.Client{}, logger)
	prober.Start(context.Background())
	defer prober.Stop()

	// Health and metrics bypass the middleware stack.
	mux := http.NewServeMux()
	health.New(registry, logger).RegisterRoutes(mux)

	if cfg.Metrics.IsEnabled() {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", cfg.Metrics.Path)
	}

	// Config reloader: breaker settings apply to live breakers on reload.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		applyBreakerUpdates(newCfg, registry, logger)
	})

	var adminStack http.Handler
	if cfg.Admin.Enabled {
		adminMux := http.NewServeMux()
		adminHandler := admin.New(reloader, registry, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(adminMux, auth.Middleware(cfg.Admin.Auth, logger))

		// Recovery → RequestID → SecurityHeaders → Logging → admin routes
		var h http.Handler = adminMux
		h = middleware.Logging(logger)(h)
		h = middleware.SecurityHeaders()(h)
		h = middleware.RequestID(h)
		h = middleware.Recovery(logger)(h)
		adminStack = h
		logger.Info("admin API enabled", "allowlist", cfg.Admin.IPAllowlist, "auth", cfg.Admin.Auth.Enabled)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin") && adminStack != nil {
			adminStack.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		tlsCfg, loader, err := tlsutil.ServerConfig(cfg.Server.TLS, logger)
		if err != nil {
			logger.Error("failed to set up TLS", "error", err)
			os.Exit(1)
		}
		srv.TLSConfig = tlsCfg
		certLoader = loader
		defer certLoader.Stop()
	}

	go func() {
		logger.Info("starting resilienced", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("resilienced stopped gracefully")
}

// buildTargets constructs one guarded probe target per configured upstream,
// applying per-upstream policy overrides over the global defaults.
func buildTargets(cfg *config.Config, registry *circuitbreaker.Registry, logger *slog.Logger) ([]probe.Target, error) {
	targets := make([]probe.Target, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		gc := resilience.Config{
			Breaker:  effectiveBreaker(u, cfg.Defaults),
			Bulkhead: toBulkheadConfig(pick(u.Bulkhead, cfg.Defaults.Bulkhead)),
			Retry:    toRetryConfig(pick(u.Retry, cfg.Defaults.Retry)),
		}

		guard, err := resilience.New(u.Name, gc, registry, logger)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: %w", u.Name, err)
		}

		targets = append(targets, probe.Target{
			Name:     u.Name,
			URL:      u.URL,
			Interval: u.ProbeInterval,
			Timeout:  u.ProbeTimeout,
			Guard:    guard,
		})
	}
	return targets, nil
}

// applyBreakerUpdates pushes reloaded breaker settings to live breakers.
// Upstreams added in the new config need a restart to be probed; removed
// upstreams keep their breakers until restart.
func applyBreakerUpdates(cfg *config.Config, registry *circuitbreaker.Registry, logger *slog.Logger) {
	breakers := registry.All()
	for _, u := range cfg.Upstreams {
		cb, ok := breakers[u.Name]
		if !ok {
			logger.Warn("new upstream in config requires restart to probe", "upstream", u.Name)
			continue
		}
		if err := cb.UpdateConfig(effectiveBreaker(u, cfg.Defaults)); err != nil {
			logger.Error("failed to apply breaker config", "upstream", u.Name, "error", err)
		}
	}
}

func pick[T any](override, fallback *T) *T {
	if override != nil {
		return override
	}
	return fallback
}

func effectiveBreaker(u config.UpstreamConfig, defaults config.PolicyConfig) circuitbreaker.Config {
	if u.Breaker != nil {
		return toBreakerConfig(*u.Breaker)
	}
	return toBreakerConfig(defaults.Breaker)
}

func toBreakerConfig(c config.BreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:   c.FailureThreshold,
		SuccessThreshold:   c.SuccessThreshold,
		ResetTimeout:       c.ResetTimeout,
		HalfOpenMaxCalls:   c.HalfOpenMaxCalls,
		ErrorRateThreshold: c.ErrorRateThreshold,
		WindowSize:         c.WindowSize,
	}
}

func toRetryConfig(c *config.RetryConfig) *retry.Config {
	if c == nil {
		return nil
	}
	return &retry.Config{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay,
		Multiplier: c.Multiplier,
		MaxDelay:   c.MaxDelay,
		Jitter:     c.Jitter,
	}
}

func toBulkheadConfig(c *config.BulkheadConfig) *bulkhead.Config {
	if c == nil {
		return nil
	}
	return &bulkhead.Config{
		MaxConcurrent: c.MaxConcurrent,
		MaxQueue:      c.MaxQueue,
		Timeout:       c.Timeout,
	}
}
