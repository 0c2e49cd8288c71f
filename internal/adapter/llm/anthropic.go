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

const defaultAnthropicVersion = "2023-06-01"

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*AnthropicProvider)(nil)
	_ domain.StreamingProvider = (*AnthropicProvider)(nil)
)

// AnthropicProvider implements domain.Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	version string
	trace   bool
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger, trace bool) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
		version: defaultAnthropicVersion,
		trace:   trace,
	}
}

// Complete implements domain.Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
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

	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.name, p.baseURL+"/v1/messages", body, p.headers(), p.logger, p.trace)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromAnthropicResponse(antResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logCompleted(p.logger, p.name, result)

	return result, nil
}

// Stream implements domain.StreamingProvider.
func (p *AnthropicProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	if err := checkSupported(p, req); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}

	antReq := toAnthropicRequest(req)
	antReq.Stream = true

	body, err := json.Marshal(antReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.name, p.baseURL+"/v1/messages", body, p.headers(), p.logger, p.trace)
	if err != nil {
		return nil, err
	}

	// Anthropic emits "event: <type>\ndata: <json>" pairs; the data JSON
	// repeats the type, so the data line alone is enough to dispatch on.
	// Tool-call deltas are correlated by content block index.
	var usage *domain.Usage
	var finishReason string
	ch := parseSSEStream(ctx, httpResp.Body, func(data []byte) ([]domain.StreamEvent, error) {
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}

		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				usage = &domain.Usage{PromptTokens: evt.Message.Usage.InputTokens}
			}
			return nil, nil

		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				return []domain.StreamEvent{domain.ToolCallDeltaEvent(domain.ToolCallDelta{
					Index: evt.Index,
					ID:    evt.ContentBlock.ID,
					Name:  evt.ContentBlock.Name,
				})}, nil
			}
			return nil, nil

		case "content_block_delta":
			var delta anthropicDelta
			if err := json.Unmarshal(evt.Delta, &delta); err != nil {
				return nil, err
			}
			switch delta.Type {
			case "text_delta":
				return []domain.StreamEvent{domain.TextDeltaEvent(delta.Text)}, nil
			case "input_json_delta":
				return []domain.StreamEvent{domain.ToolCallDeltaEvent(domain.ToolCallDelta{
					Index:     evt.Index,
					Arguments: delta.PartialJSON,
				})}, nil
			}
			return nil, nil

		case "message_delta":
			var md anthropicMessageDelta
			if err := json.Unmarshal(evt.Delta, &md); err == nil && md.StopReason != "" {
				finishReason = convertAnthropicStopReason(md.StopReason)
			}
			if len(evt.Usage) > 0 {
				var u anthropicUsage
				if err := json.Unmarshal(evt.Usage, &u); err == nil {
					if usage == nil {
						usage = &domain.Usage{}
					}
					usage.CompletionTokens = u.OutputTokens
					usage.TotalTokens = usage.PromptTokens + u.OutputTokens
				}
			}
			return nil, nil

		case "message_stop":
			var events []domain.StreamEvent
			if usage != nil {
				events = append(events, domain.UsageEvent(*usage))
			}
			events = append(events, domain.DoneEvent(finishReason))
			return events, nil

		default:
			return nil, nil
		}
	})

	return ch, nil
}

// Supports implements domain.Provider.
func (p *AnthropicProvider) Supports(kind domain.ContentKind) bool { return true }

// Name implements domain.Provider.
func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Anthropic streaming wire types ---

type anthropicStreamEvent struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index,omitempty"`
	Delta        json.RawMessage       `json:"delta,omitempty"`
	Usage        json.RawMessage       `json:"usage,omitempty"`
	ContentBlock *anthropicContent     `json:"content_block,omitempty"`
	Message      *anthropicStreamStart `json:"message,omitempty"`
}

type anthropicStreamStart struct {
	Usage anthropicUsage `json:"usage"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicMessageDelta struct {
	StopReason string `json:"stop_reason"`
}

func toAnthropicRequest(req domain.CompletionRequest) anthropicRequest {
	antReq := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		StopSequences: req.StopSequences,
	}

	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = 4096
	}
	if req.Temperature > 0 {
		t := req.Temperature
		antReq.Temperature = &t
	}
	if req.TopP > 0 {
		tp := req.TopP
		antReq.TopP = &tp
	}

	for _, m := range req.Messages {
		// System messages lift into the top-level system prompt.
		if m.Role == domain.RoleSystem {
			if antReq.System != "" {
				antReq.System += "\n"
			}
			antReq.System += m.Text()
			continue
		}

		// Tool results travel as user-role tool_result blocks.
		if results := m.ToolResults(); len(results) > 0 {
			antMsg := anthropicMessage{Role: "user"}
			for _, res := range results {
				antMsg.Content = append(antMsg.Content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: res.CallID,
					Content:   res.Content,
					IsError:   res.IsError,
				})
			}
			antReq.Messages = append(antReq.Messages, antMsg)
			continue
		}

		antMsg := anthropicMessage{Role: m.Role}
		for _, part := range m.Parts {
			switch part.Kind {
			case domain.ContentText:
				antMsg.Content = append(antMsg.Content, anthropicContent{Type: "text", Text: part.Text})
			case domain.ContentImage:
				src := &anthropicSource{}
				if part.Image.URL != "" {
					src.Type = "url"
					src.URL = part.Image.URL
				} else {
					src.Type = "base64"
					src.MediaType = part.Image.MediaType
					src.Data = base64.StdEncoding.EncodeToString(part.Image.Data)
				}
				antMsg.Content = append(antMsg.Content, anthropicContent{Type: "image", Source: src})
			case domain.ContentToolCall:
				antMsg.Content = append(antMsg.Content, anthropicContent{
					Type:  "tool_use",
					ID:    part.ToolCall.ID,
					Name:  part.ToolCall.Name,
					Input: part.ToolCall.Arguments,
				})
			}
		}
		antReq.Messages = append(antReq.Messages, antMsg)
	}

	for _, t := range req.Tools {
		antReq.Tools = append(antReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return antReq
}

func convertAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func fromAnthropicResponse(resp anthropicResponse) *domain.CompletionResponse {
	result := &domain.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: convertAnthropicStopReason(resp.StopReason),
		CreatedAt:    time.Now(),
	}

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Timestamp: result.CreatedAt,
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Parts = append(msg.Parts, domain.TextPart(block.Text))
		case "tool_use":
			msg.Parts = append(msg.Parts, domain.ToolCallPart(domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			}))
		}
	}

	result.Message = msg
	return result
}
