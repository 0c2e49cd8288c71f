package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from LLM APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxErrorBody caps how much of a vendor error body is carried in errors.
const maxErrorBody = 4096

// doJSONRequest performs a JSON POST request and returns the response body.
// Non-200 responses are mapped to the domain error taxonomy. When trace is
// on, raw request/response bodies are logged at debug level.
func doJSONRequest(ctx context.Context, client *http.Client, provider, url string, body []byte, headers map[string]string, logger *slog.Logger, trace bool) ([]byte, error) {
	if trace {
		logger.Debug("vendor request", "provider", provider, "url", url, "body", string(body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(provider, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, mapTransportError(provider, err)
	}

	if trace {
		logger.Debug("vendor response", "provider", provider, "status", httpResp.StatusCode, "body", string(respBody))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(provider, httpResp, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
func doStreamRequest(ctx context.Context, client *http.Client, provider, url string, body []byte, headers map[string]string, logger *slog.Logger, trace bool) (*http.Response, error) {
	if trace {
		logger.Debug("vendor stream request", "provider", provider, "url", url, "body", string(body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(provider, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(provider, httpResp, respBody)
	}

	return httpResp, nil
}

// mapHTTPError maps an HTTP status + response body to the unified error
// taxonomy. Unknown vendor errors keep the raw detail, never dropped.
func mapHTTPError(provider string, resp *http.Response, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	pe := &domain.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Raw:        string(body),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Kind = domain.ErrRateLimited
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden:
		pe.Kind = domain.ErrAuthFailure
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		pe.Kind = domain.ErrInvalidRequest
	case resp.StatusCode >= 500:
		pe.Kind = domain.ErrProviderUnavailable
	default:
		pe.Kind = domain.ErrUnknown
	}

	return pe
}

// mapTransportError classifies connection-level failures: context
// expiry becomes Timeout, everything else ProviderUnavailable.
func mapTransportError(provider string, err error) error {
	kind := domain.ErrProviderUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = domain.ErrTimeout
	}
	return &domain.ProviderError{
		Provider: provider,
		Kind:     kind,
		Raw:      err.Error(),
	}
}

// parseRetryAfter handles the delay-seconds form of the Retry-After
// header. The HTTP-date form is rare from LLM vendors and is ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// logCompleted logs the standard debug message after a successful completion.
func logCompleted(logger *slog.Logger, providerName string, result *domain.CompletionResponse) {
	logger.Debug("completion finished",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// checkSupported fails fast with UnsupportedContent when the request
// carries a content kind the provider cannot handle.
func checkSupported(p domain.Provider, req domain.CompletionRequest) error {
	for _, m := range req.Messages {
		for _, part := range m.Parts {
			if !p.Supports(part.Kind) {
				return domain.NewDomainError(p.Name(), domain.ErrUnsupportedContent, string(part.Kind))
			}
		}
	}
	return nil
}
