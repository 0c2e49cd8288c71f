package llm

import (
	"context"

	"llmrelay/internal/domain"
)

// HealthChecker is implemented by providers that can report reachability
// without spending tokens.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Warmer is implemented by providers that can pre-load their model ahead
// of the first real request.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Unwrapper exposes the provider a wrapper delegates to, so capability
// probes can look through rate-limit, breaker, and failover layers.
type Unwrapper interface {
	Unwrap() domain.Provider
}

// Underlying walks the wrapper chain and returns the innermost provider.
func Underlying(p domain.Provider) domain.Provider {
	for {
		u, ok := p.(Unwrapper)
		if !ok {
			return p
		}
		p = u.Unwrap()
	}
}

// ProbeHealth reports whether the provider (or any provider it wraps)
// can answer a health check. The second result is false when no layer of
// the chain supports one.
func ProbeHealth(ctx context.Context, p domain.Provider) (healthy, checked bool) {
	for {
		if hc, ok := p.(HealthChecker); ok {
			return hc.IsHealthy(ctx), true
		}
		u, ok := p.(Unwrapper)
		if !ok {
			return false, false
		}
		p = u.Unwrap()
	}
}

// WarmProvider warms the provider if any layer of its wrapper chain
// supports it. Providers without a warmup path return nil.
func WarmProvider(ctx context.Context, p domain.Provider) error {
	for {
		if w, ok := p.(Warmer); ok {
			return w.Warmup(ctx)
		}
		u, ok := p.(Unwrapper)
		if !ok {
			return nil
		}
		p = u.Unwrap()
	}
}
