// Package retry provides exponential-backoff retry policies for operations
// that fail transiently. A Policy is configuration only — it holds no
// cross-call state — and composes with circuit breakers and bulkheads at
// the call site.
//
// Jitter, when enabled, is full jitter: each delay is drawn uniformly from
// [0, delay). The algorithm is swappable via Config.JitterFunc, and Seed
// makes it deterministic for tests.
package retry

import (
	"context"
	"fmt"
	"iter"
	"math"
	"math/rand"
	"sync"
	"time"
)

// DefaultMultiplier is applied when Config.Multiplier is zero.
const DefaultMultiplier = 2.0

// Config specifies how retries are attempted.
type Config struct {
	// MaxRetries is the number of re-attempts after the first call.
	// Zero means exactly one attempt, no retries.
	MaxRetries int

	// BaseDelay is the backoff before the first retry. Must be positive.
	BaseDelay time.Duration

	// Multiplier scales the delay after each retry. Zero defaults to
	// DefaultMultiplier; values below 1 are rejected.
	Multiplier float64

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Jitter perturbs each delay with full jitter (uniform in [0, delay)).
	Jitter bool

	// JitterFunc overrides the jitter algorithm when Jitter is true.
	// It receives the deterministic delay and a uniform [0, 1) source.
	JitterFunc func(delay time.Duration, random func() float64) time.Duration

	// Retryable reports whether an error is worth retrying. Nil means
	// every error is retryable.
	Retryable func(error) bool
}

// Policy produces backoff delays and drives retry loops. Safe for
// concurrent use.
type Policy struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand // nil → package-global source
}

// New validates cfg and returns a Policy. Invalid parameters fail here,
// never silently clamped.
func New(cfg Config) (*Policy, error) {
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("retry: max_retries must be non-negative, got %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay <= 0 {
		return nil, fmt.Errorf("retry: base_delay must be positive, got %s", cfg.BaseDelay)
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("retry: multiplier must be at least 1, got %g", cfg.Multiplier)
	}
	if cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("retry: max_delay must be non-negative, got %s", cfg.MaxDelay)
	}
	return &Policy{cfg: cfg}, nil
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int { return p.cfg.MaxRetries }

// Seed switches the policy to a private, seeded random source so jittered
// delays are reproducible in tests.
func (p *Policy) Seed(seed int64) {
	p.mu.Lock()
	p.rng = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
}

func (p *Policy) random() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng != nil {
		return p.rng.Float64()
	}
	return rand.Float64()
}

// Delay returns the backoff after failed attempt n (0-based):
// min(base · multiplier^n, max), optionally jittered. Ignoring jitter it is
// non-decreasing in n and never exceeds MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	if p.cfg.MaxDelay > 0 && d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	delay := time.Duration(d)

	if !p.cfg.Jitter {
		return delay
	}
	if p.cfg.JitterFunc != nil {
		return p.cfg.JitterFunc(delay, p.random)
	}
	return fullJitter(delay, p.random)
}

// fullJitter draws uniformly from [0, delay).
func fullJitter(delay time.Duration, random func() float64) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(random() * float64(delay))
}

// ShouldRetry reports whether err is retryable under this policy.
// A nil error is never retryable.
func (p *Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if p.cfg.Retryable == nil {
		return true
	}
	return p.cfg.Retryable(err)
}

// Do calls fn up to 1+MaxRetries times. The first attempt is immediate;
// failed attempts are separated by the computed backoff, waited with the
// context so cancellation aborts the pause and returns ctx.Err(). Returns
// the first nil error, the first non-retryable error, or the last error
// once the retry budget is spent.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.cfg.MaxRetries || !p.ShouldRetry(err) {
			return err
		}
		if werr := p.wait(ctx, p.Delay(attempt)); werr != nil {
			return werr
		}
	}
}

// Wrap returns fn wrapped in this policy's retry loop — the higher-order
// equivalent of a retry decorator.
func (p *Policy) Wrap(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Do(ctx, fn)
	}
}

// Attempts returns an iterator over attempt indices 0 through MaxRetries,
// sleeping the computed backoff between yields. The iteration stops early
// when the loop body breaks or the context is done; the caller is expected
// to break on success.
func (p *Policy) Attempts(ctx context.Context) iter.Seq[int] {
	return func(yield func(int) bool) {
		for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
			if !yield(attempt) {
				return
			}
			if attempt == p.cfg.MaxRetries {
				return
			}
			if err := p.wait(ctx, p.Delay(attempt)); err != nil {
				return
			}
		}
	}
}

// wait blocks for d, honouring context cancellation.
func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
