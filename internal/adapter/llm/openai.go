package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
	"llmrelay/internal/infra/tracer"
)

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*OpenAIProvider)(nil)
	_ domain.StreamingProvider = (*OpenAIProvider)(nil)
)

// OpenAIProvider implements domain.Provider for any OpenAI-compatible API.
type OpenAIProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	trace   bool

	// vision is false for OpenAI-compatible backends that reject image
	// content parts (e.g. a text-only Grok route).
	vision bool

	// extraOptions translates opaque provider options into wire-level
	// fields. Wrapping providers (Grok, OpenRouter) install it; plain
	// OpenAI leaves options untouched.
	extraOptions func(map[string]string) map[string]json.RawMessage
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger, trace bool) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
		trace:   trace,
		vision:  true,
	}
}

// Complete implements domain.Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if err := checkSupported(p, req); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}

	oaiReq := toOpenAIRequest(req)
	if p.extraOptions != nil {
		oaiReq.Extra = p.extraOptions(req.ProviderOptions)
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.name, p.baseURL+"/chat/completions", body, p.headers(), p.logger, p.trace)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromOpenAIResponse(oaiResp)
	if result.Usage.TotalTokens == 0 {
		result.Usage = estimateUsage(req, result.Message)
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logCompleted(p.logger, p.name, result)

	return result, nil
}

// Stream implements domain.StreamingProvider.
func (p *OpenAIProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	if err := checkSupported(p, req); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}

	oaiReq := toOpenAIRequest(req)
	oaiReq.Stream = true
	oaiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	if p.extraOptions != nil {
		oaiReq.Extra = p.extraOptions(req.ProviderOptions)
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.name, p.baseURL+"/chat/completions", body, p.headers(), p.logger, p.trace)
	if err != nil {
		return nil, err
	}

	// Finish reason arrives one chunk before the usage chunk; hold Done
	// until usage is seen or the stream ends.
	var finishReason string
	ch := parseSSEStream(ctx, httpResp.Body, func(data []byte) ([]domain.StreamEvent, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		var events []domain.StreamEvent
		if len(chunk.Choices) > 0 {
			c := chunk.Choices[0]
			if c.Delta.Content != "" {
				events = append(events, domain.TextDeltaEvent(c.Delta.Content))
			}
			for _, tc := range c.Delta.ToolCalls {
				events = append(events, domain.ToolCallDeltaEvent(domain.ToolCallDelta{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}))
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				finishReason = *c.FinishReason
			}
		}
		if chunk.Usage != nil {
			events = append(events, domain.UsageEvent(domain.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}))
			events = append(events, domain.DoneEvent(finishReason))
		}
		return events, nil
	})

	return ch, nil
}

// Supports implements domain.Provider.
func (p *OpenAIProvider) Supports(kind domain.ContentKind) bool {
	if kind == domain.ContentImage {
		return p.vision
	}
	return true
}

// Name implements domain.Provider.
func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) headers() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	Tools         []openaiTool         `json:"tools,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`

	// Extra carries vendor-specific options for OpenAI-compatible APIs
	// (Grok reasoning_effort, OpenRouter routing, ...).
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON inlines Extra into the request object.
func (r openaiRequest) MarshalJSON() ([]byte, error) {
	type plain openaiRequest
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"` // string or []openaiContentPart
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	Index    int                    `json:"index,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Created int64          `json:"created"`
}

type openaiChoice struct {
	Index        int               `json:"index"`
	Message      openaiRespMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openaiRespMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

func toOpenAIRequest(req domain.CompletionRequest) openaiRequest {
	msgs := make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		// Tool results become one tool-role message per result.
		if results := m.ToolResults(); len(results) > 0 {
			for _, res := range results {
				msgs = append(msgs, openaiMessage{
					Role:       "tool",
					Content:    res.Content,
					ToolCallID: res.CallID,
				})
			}
			continue
		}

		oaiMsg := openaiMessage{Role: m.Role, Name: m.Name}

		for _, tc := range m.ToolCalls() {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiToolCallFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}

		if m.HasKind(domain.ContentImage) {
			oaiMsg.Content = toOpenAIContentParts(m.Parts)
		} else if text := m.Text(); text != "" {
			oaiMsg.Content = text
		}

		msgs = append(msgs, oaiMsg)
	}

	oaiReq := openaiRequest{
		Model:    req.Model,
		Messages: msgs,
		Stop:     req.StopSequences,
	}

	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		oaiReq.Temperature = &t
	}
	if req.TopP > 0 {
		tp := req.TopP
		oaiReq.TopP = &tp
	}

	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return oaiReq
}

func toOpenAIContentParts(parts []domain.ContentPart) []openaiContentPart {
	var out []openaiContentPart
	for _, p := range parts {
		switch p.Kind {
		case domain.ContentText:
			out = append(out, openaiContentPart{Type: "text", Text: p.Text})
		case domain.ContentImage:
			url := p.Image.URL
			if url == "" && len(p.Image.Data) > 0 {
				url = fmt.Sprintf("data:%s;base64,%s", p.Image.MediaType,
					base64.StdEncoding.EncodeToString(p.Image.Data))
			}
			out = append(out, openaiContentPart{
				Type:     "image_url",
				ImageURL: &openaiImageURL{URL: url, Detail: p.Image.Detail},
			})
		}
	}
	return out
}

func fromOpenAIResponse(resp openaiResponse) *domain.CompletionResponse {
	result := &domain.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.FinishReason = choice.FinishReason

		msg := domain.Message{
			Role:      domain.RoleAssistant,
			Timestamp: result.CreatedAt,
		}
		if choice.Message.Content != "" {
			msg.Parts = append(msg.Parts, domain.TextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			msg.Parts = append(msg.Parts, domain.ToolCallPart(domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}))
		}
		result.Message = msg
	}

	return result
}
