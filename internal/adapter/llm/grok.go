package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
)

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*GrokProvider)(nil)
	_ domain.StreamingProvider = (*GrokProvider)(nil)
)

// GrokProvider wraps OpenAIProvider to work with the xAI API. The wire
// shape is OpenAI-compatible; Grok-specific generation knobs arrive via
// the request's provider options and are inlined into the payload.
type GrokProvider struct {
	inner *OpenAIProvider
}

// NewGrokProvider creates a Grok provider that delegates to OpenAIProvider.
func NewGrokProvider(cfg config.ProviderConfig, logger *slog.Logger, trace bool) *GrokProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}

	return &GrokProvider{
		inner: &OpenAIProvider{
			name:         cfg.Name,
			model:        cfg.Model,
			apiKey:       cfg.APIKey,
			baseURL:      baseURL,
			client:       NewHTTPClient(cfg),
			logger:       logger,
			trace:        trace,
			vision:       true,
			extraOptions: grokExtra,
		},
	}
}

// grokOptionKeys maps provider-option names to their JSON types so option
// strings serialize as the vendor expects.
var grokOptionKeys = map[string]string{
	"reasoning_effort":  "string",
	"seed":              "number",
	"frequency_penalty": "number",
	"presence_penalty":  "number",
	"top_logprobs":      "number",
	"user":              "string",
}

// Complete implements domain.Provider.
func (p *GrokProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return p.inner.Complete(ctx, req)
}

// Stream implements domain.StreamingProvider.
func (p *GrokProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	return p.inner.Stream(ctx, req)
}

// Supports implements domain.Provider.
func (p *GrokProvider) Supports(kind domain.ContentKind) bool { return p.inner.Supports(kind) }

// Name implements domain.Provider.
func (p *GrokProvider) Name() string { return p.inner.Name() }

// grokExtra builds the wire-level option map from the request's opaque
// provider options. Unrecognized keys are dropped rather than sent blind.
func grokExtra(options map[string]string) map[string]json.RawMessage {
	extra := make(map[string]json.RawMessage, len(options))
	for key, value := range options {
		typ, ok := grokOptionKeys[key]
		if !ok {
			continue
		}
		switch typ {
		case "number":
			if _, err := strconv.ParseFloat(value, 64); err == nil {
				extra[key] = json.RawMessage(value)
			}
		default:
			quoted, _ := json.Marshal(value)
			extra[key] = quoted
		}
	}
	return extra
}
