//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
	"llmrelay/internal/infra/tracer"
)

// Compile-time interface assertions.
var (
	_ domain.Provider          = (*BedrockProvider)(nil)
	_ domain.StreamingProvider = (*BedrockProvider)(nil)
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements domain.Provider via the AWS Bedrock Converse API.
type BedrockProvider struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS
// credential chain.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an injected
// client (for testing).
func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{
		name:   name,
		model:  model,
		client: client,
		logger: logger,
	}
}

// Complete implements domain.Provider.
func (p *BedrockProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
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

	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(p.name, err)
	}

	result := fromBedrockConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logCompleted(p.logger, p.name, result)

	return result, nil
}

// Stream implements domain.StreamingProvider.
func (p *BedrockProvider) Stream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	if err := checkSupported(p, req); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = p.model
	}

	ci := toBedrockConverseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
		ToolConfig:      ci.ToolConfig,
	})
	if err != nil {
		return nil, mapBedrockError(p.name, err)
	}

	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		terminal := false
		emit := func(evt domain.StreamEvent) bool {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return false
			}
			if evt.Terminal() {
				terminal = true
			}
			return !terminal
		}

		for evt := range stream.Events() {
			for _, out := range convertBedrockStreamEvent(evt) {
				if !emit(out) {
					return
				}
			}
		}

		if !terminal {
			if err := stream.Err(); err != nil {
				emit(domain.ErrorEvent(mapBedrockError(p.name, err)))
			} else {
				emit(domain.DoneEvent("stop"))
			}
		}
	}()

	return ch, nil
}

// Supports implements domain.Provider.
func (p *BedrockProvider) Supports(kind domain.ContentKind) bool { return true }

// Name implements domain.Provider.
func (p *BedrockProvider) Name() string { return p.name }

// --- Bedrock request/response conversion ---

func toBedrockConverseInput(req domain.CompletionRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}
	if req.TopP > 0 {
		input.InferenceConfig.TopP = aws.Float32(float32(req.TopP))
	}
	input.InferenceConfig.StopSequences = req.StopSequences

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			input.System = append(input.System,
				&types.SystemContentBlockMemberText{Value: m.Text()})
			continue
		}
		if msg := toBedrockMessage(m); msg != nil {
			input.Messages = append(input.Messages, *msg)
		}
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
	}

	return input
}

func toBedrockMessage(m domain.Message) *types.Message {
	msg := &types.Message{}

	if results := m.ToolResults(); len(results) > 0 {
		msg.Role = types.ConversationRoleUser
		for _, res := range results {
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(res.CallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: res.Content},
					},
				},
			})
		}
		return msg
	}

	switch m.Role {
	case domain.RoleAssistant:
		msg.Role = types.ConversationRoleAssistant
	case domain.RoleUser:
		msg.Role = types.ConversationRoleUser
	default:
		return nil
	}

	for _, part := range m.Parts {
		switch part.Kind {
		case domain.ContentText:
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: part.Text})
		case domain.ContentImage:
			if len(part.Image.Data) > 0 {
				msg.Content = append(msg.Content, &types.ContentBlockMemberImage{
					Value: types.ImageBlock{
						Format: bedrockImageFormat(part.Image.MediaType),
						Source: &types.ImageSourceMemberBytes{Value: part.Image.Data},
					},
				})
			}
		case domain.ContentToolCall:
			var inputDoc map[string]interface{}
			if len(part.ToolCall.Arguments) > 0 {
				json.Unmarshal(part.ToolCall.Arguments, &inputDoc)
			}
			if inputDoc == nil {
				inputDoc = map[string]interface{}{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(part.ToolCall.ID),
					Name:      aws.String(part.ToolCall.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}
	}

	return msg
}

func bedrockImageFormat(mediaType string) types.ImageFormat {
	switch mediaType {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

func toBedrockToolConfig(tools []domain.ToolDeclaration) *types.ToolConfiguration {
	var bedrockTools []types.Tool
	for _, t := range tools {
		var schema map[string]interface{}
		if len(t.Parameters) > 0 {
			json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.CompletionResponse {
	now := time.Now()
	result := &domain.CompletionResponse{
		Model:        model,
		FinishReason: convertBedrockStopReason(output.StopReason),
		CreatedAt:    now,
	}

	if output.Usage != nil {
		in := int(aws.ToInt32(output.Usage.InputTokens))
		out := int(aws.ToInt32(output.Usage.OutputTokens))
		result.Usage = domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	}

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Timestamp: now,
	}

	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				msg.Parts = append(msg.Parts, domain.TextPart(b.Value))
			case *types.ContentBlockMemberToolUse:
				msg.Parts = append(msg.Parts, domain.ToolCallPart(domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: marshalDocument(b.Value.Input),
				}))
			}
		}
	}

	result.Message = msg
	return result
}

func convertBedrockStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return "stop"
	case types.StopReasonMaxTokens:
		return "length"
	case types.StopReasonToolUse:
		return "tool_calls"
	default:
		return string(reason)
	}
}

// marshalDocument converts a Bedrock document.Interface to json.RawMessage.
func marshalDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func convertBedrockStreamEvent(evt types.ConverseStreamOutput) []domain.StreamEvent {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		idx := int(aws.ToInt32(e.Value.ContentBlockIndex))
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return []domain.StreamEvent{domain.TextDeltaEvent(d.Value)}
		case *types.ContentBlockDeltaMemberToolUse:
			return []domain.StreamEvent{domain.ToolCallDeltaEvent(domain.ToolCallDelta{
				Index:     idx,
				Arguments: aws.ToString(d.Value.Input),
			})}
		}
		return nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return []domain.StreamEvent{domain.ToolCallDeltaEvent(domain.ToolCallDelta{
				Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
				ID:    aws.ToString(start.Value.ToolUseId),
				Name:  aws.ToString(start.Value.Name),
			})}
		}
		return nil

	case *types.ConverseStreamOutputMemberMetadata:
		var events []domain.StreamEvent
		if e.Value.Usage != nil {
			in := int(aws.ToInt32(e.Value.Usage.InputTokens))
			out := int(aws.ToInt32(e.Value.Usage.OutputTokens))
			events = append(events, domain.UsageEvent(domain.Usage{
				PromptTokens: in, CompletionTokens: out, TotalTokens: in + out,
			}))
		}
		events = append(events, domain.DoneEvent("stop"))
		return events

	default:
		return nil
	}
}

// --- Error mapping ---

func mapBedrockError(provider string, err error) error {
	if err == nil {
		return nil
	}

	pe := &domain.ProviderError{Provider: provider, Raw: err.Error()}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			pe.Kind = domain.ErrRateLimited
		case "AccessDeniedException", "UnrecognizedClientException":
			pe.Kind = domain.ErrAuthFailure
		case "ValidationException":
			pe.Kind = domain.ErrInvalidRequest
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
			pe.Kind = domain.ErrProviderUnavailable
		default:
			pe.Kind = domain.ErrUnknown
		}
		return pe
	}

	return mapTransportError(provider, err)
}
