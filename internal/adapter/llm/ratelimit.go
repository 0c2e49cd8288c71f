package llm

import (
	"context"

	"golang.org/x/time/rate"

	"llmrelay/internal/domain"
)

// RateLimitedProvider throttles outbound calls to a provider with a
// client-side token bucket. Waiting respects context cancellation, so a
// caller deadline shorter than the wait fails with the context error.
type RateLimitedProvider struct {
	inner   domain.Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps inner with a limiter of rps requests per
// second and the given burst. A burst of 0 is raised to 1 so the limiter
// can admit requests at all.
func NewRateLimitedProvider(inner domain.Provider, rps float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete implements domain.Provider.
func (p *RateLimitedProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Complete(ctx, req)
}

// Stream implements domain.StreamingProvider if the inner provider does.
// Only stream initiation consumes a token.
func (p *RateLimitedProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	sp, ok := p.inner.(domain.StreamingProvider)
	if !ok {
		return nil, domain.NewDomainError(p.inner.Name(), domain.ErrInvalidRequest, "provider does not support streaming")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return sp.Stream(ctx, req)
}

// Supports implements domain.Provider.
func (p *RateLimitedProvider) Supports(kind domain.ContentKind) bool {
	return p.inner.Supports(kind)
}

// Name implements domain.Provider.
func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

// Unwrap returns the throttled provider.
func (p *RateLimitedProvider) Unwrap() domain.Provider { return p.inner }

var (
	_ domain.Provider          = (*RateLimitedProvider)(nil)
	_ domain.StreamingProvider = (*RateLimitedProvider)(nil)
)
