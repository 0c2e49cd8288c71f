package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
)

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*OpenRouterProvider)(nil)
	_ domain.StreamingProvider = (*OpenRouterProvider)(nil)
)

// openrouterTransport is a custom http.RoundTripper that injects
// OpenRouter-specific attribution headers into every request.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original.
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com/llmrelay/llmrelay")
	clone.Header.Set("X-Title", "llmrelay")
	return t.base.RoundTrip(clone)
}

// OpenRouterProvider wraps OpenAIProvider to work with the OpenRouter API.
type OpenRouterProvider struct {
	inner *OpenAIProvider
}

// NewOpenRouterProvider creates an OpenRouter provider that delegates to
// OpenAIProvider with a custom transport for OpenRouter-specific headers.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger, trace bool) *OpenRouterProvider {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{base: client.Transport}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	return &OpenRouterProvider{
		inner: &OpenAIProvider{
			name:    cfg.Name,
			model:   cfg.Model,
			apiKey:  cfg.APIKey,
			baseURL: baseURL,
			client:  client,
			logger:  logger,
			trace:   trace,
			vision:  true,
		},
	}
}

// Complete implements domain.Provider.
func (p *OpenRouterProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return p.inner.Complete(ctx, req)
}

// Stream implements domain.StreamingProvider.
func (p *OpenRouterProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	return p.inner.Stream(ctx, req)
}

// Supports implements domain.Provider.
func (p *OpenRouterProvider) Supports(kind domain.ContentKind) bool { return p.inner.Supports(kind) }

// Name implements domain.Provider.
func (p *OpenRouterProvider) Name() string { return p.inner.Name() }
