package circuitbreaker

import (
	"log/slog"
	"sync"
)

// Registry manages a collection of named circuit breakers behind a single
// lock, constructed once at process start and passed to collaborators.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	breakers   map[string]*CircuitBreaker
	defaultCfg Config
	logger     *slog.Logger
}

// NewRegistry creates a Registry whose Get method creates breakers with
// defaultCfg. The defaults are validated once here so Get cannot fail.
func NewRegistry(defaultCfg Config, logger *slog.Logger) (*Registry, error) {
	defaultCfg = defaultCfg.withDefaults()
	if err := defaultCfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers:   make(map[string]*CircuitBreaker),
		defaultCfg: defaultCfg,
		logger:     logger,
	}, nil
}

// Get returns the breaker registered under name, creating one with the
// registry's default config if it does not exist.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	// Defaults were validated in NewRegistry, so New cannot fail here.
	cb, _ = New(name, r.defaultCfg, r.logger)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns the breaker registered under name, creating one
// with cfg if it does not exist. If the breaker already exists the existing
// instance is returned and cfg is ignored.
func (r *Registry) GetWithConfig(name string, cfg Config) (*CircuitBreaker, error) {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok = r.breakers[name]; ok {
		return cb, nil
	}

	cb, err := New(name, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// All returns a snapshot of all registered breakers keyed by name.
func (r *Registry) All() map[string]*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// Reset resets the named breaker to closed with zeroed stats. Returns false
// if no breaker is registered under name.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}
