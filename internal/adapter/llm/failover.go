package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"llmrelay/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*FailoverProvider)(nil)
	_ domain.StreamingProvider = (*FailoverProvider)(nil)
)

// FailoverProvider wraps a primary provider with ordered fallbacks. A
// fallback is attempted only when the failure is transient (rate limit or
// vendor outage); auth failures and invalid requests fail immediately
// since every fallback would reject them the same way.
type FailoverProvider struct {
	primary   domain.Provider
	fallbacks []domain.Provider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.Provider, fallbacks []domain.Provider, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Complete tries the primary provider first, then each fallback while the
// error remains transient.
func (f *FailoverProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !domain.IsRetryableError(err) {
		return nil, err
	}
	f.logger.Warn("primary provider failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	allErrors := []string{fmt.Sprintf("%s: %v", f.primary.Name(), err)}

	for _, fb := range f.fallbacks {
		resp, err = fb.Complete(ctx, req)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return resp, nil
		}
		f.logger.Warn("fallback provider failed", "provider", fb.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", fb.Name(), err))
		if !domain.IsRetryableError(err) {
			break
		}
	}

	return nil, fmt.Errorf("all providers failed: [%s]", strings.Join(allErrors, "; "))
}

// Stream tries streaming from the primary, then each streaming-capable
// fallback while the initiation error remains transient. Errors after a
// channel is established are not failed over; partial output has already
// reached the caller.
func (f *FailoverProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	var allErrors []string

	if sp, ok := f.primary.(domain.StreamingProvider); ok {
		ch, err := sp.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if !domain.IsRetryableError(err) {
			return nil, err
		}
		f.logger.Warn("primary streaming provider failed, trying fallbacks",
			"primary", f.primary.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", f.primary.Name(), err))
	}

	for _, fb := range f.fallbacks {
		sp, ok := fb.(domain.StreamingProvider)
		if !ok {
			continue
		}
		ch, err := sp.Stream(ctx, req)
		if err == nil {
			f.logger.Info("streaming failover succeeded", "provider", fb.Name())
			return ch, nil
		}
		f.logger.Warn("fallback streaming provider failed", "provider", fb.Name(), "error", err)
		allErrors = append(allErrors, fmt.Sprintf("%s: %v", fb.Name(), err))
		if !domain.IsRetryableError(err) {
			break
		}
	}

	if len(allErrors) > 0 {
		return nil, fmt.Errorf("all streaming providers failed: [%s]", strings.Join(allErrors, "; "))
	}
	return nil, fmt.Errorf("no streaming-capable providers available")
}

// Supports reports the primary's capabilities.
func (f *FailoverProvider) Supports(kind domain.ContentKind) bool {
	return f.primary.Supports(kind)
}

// Name returns the primary provider's name so the wrapper stays routable
// under its configured name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name()
}

// Unwrap returns the primary provider. Fallbacks are not part of the
// unwrap chain; capability probes target the provider callers route to.
func (f *FailoverProvider) Unwrap() domain.Provider {
	return f.primary
}
