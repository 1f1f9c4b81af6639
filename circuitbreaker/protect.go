package circuitbreaker

import "context"

// Protected wraps a call target so every invocation passes through a named
// breaker. The Breaker field is exported on purpose: callers inspect and
// reset the underlying instance in tests and admin tooling.
type Protected struct {
	Breaker *CircuitBreaker

	fn func(context.Context) error
}

// Protect wraps fn with the breaker registered under name in reg, creating
// the breaker with the registry defaults if needed.
func Protect(reg *Registry, name string, fn func(context.Context) error) *Protected {
	return &Protected{
		Breaker: reg.Get(name),
		fn:      fn,
	}
}

// Call invokes the wrapped function through the breaker. Returns an error
// wrapping ErrCircuitOpen when the call is rejected.
func (p *Protected) Call(ctx context.Context) error {
	return p.Breaker.Do(ctx, p.fn)
}
