// Package usecase contains the provider-independent application logic:
// the tool-call orchestration state machine and the unified service
// facade over completion, streaming, and resumption.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/tracer"
)

// TurnState is the orchestrator's position in the tool-call loop.
type TurnState string

const (
	StateAwaitingModel  TurnState = "awaiting_model"
	StateInspecting     TurnState = "inspecting_response"
	StateExecutingTools TurnState = "executing_tools"
	StateFinished       TurnState = "finished"
	StateFailed         TurnState = "failed"
)

const defaultMaxToolRounds = 10

// ProviderResolver resolves a provider name to an adapter. The llm
// package's Router satisfies it.
type ProviderResolver interface {
	Route(name string) (domain.Provider, error)
}

// Orchestrator drives multi-turn tool-call conversations. It never
// executes tools itself: pending tool calls are yielded to the caller,
// which supplies the complete result set before the next model call.
type Orchestrator struct {
	resolver      ProviderResolver
	maxToolRounds int
	logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator. maxToolRounds caps model
// round trips per logical request; 0 means the default of 10.
func NewOrchestrator(resolver ProviderResolver, maxToolRounds int, logger *slog.Logger) *Orchestrator {
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	return &Orchestrator{
		resolver:      resolver,
		maxToolRounds: maxToolRounds,
		logger:        logger,
	}
}

// Turn is one logical request moving through the state machine. A Turn
// is not safe for concurrent use.
type Turn struct {
	orch     *Orchestrator
	provider domain.Provider
	req      domain.CompletionRequest

	state        TurnState
	conversation []domain.Message
	pending      []domain.ToolCall
	final        *domain.CompletionResponse
	usage        domain.Usage
	round        int
	failure      error

	schemas map[string]*jsonschema.Schema
}

// State returns the turn's current state.
func (t *Turn) State() TurnState { return t.state }

// Pending returns the tool calls awaiting results, nil unless the turn
// is in StateExecutingTools.
func (t *Turn) Pending() []domain.ToolCall { return t.pending }

// Conversation returns the accumulated messages including model replies
// and submitted tool results.
func (t *Turn) Conversation() []domain.Message { return t.conversation }

// Final returns the model's final response once the turn is finished.
func (t *Turn) Final() *domain.CompletionResponse { return t.final }

// Usage returns token usage accumulated across all model calls.
func (t *Turn) Usage() domain.Usage { return t.usage }

// Err returns the failure that moved the turn to StateFailed, nil
// otherwise.
func (t *Turn) Err() error { return t.failure }

// Start validates the request, makes the first model call, and inspects
// the response. The returned turn is either finished, failed, or waiting
// for tool results.
func (o *Orchestrator) Start(ctx context.Context, req domain.CompletionRequest) (*Turn, error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.start",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", req.Provider),
			tracer.IntAttr("tools", len(req.Tools)),
		),
	)
	defer span.End()

	if len(req.Messages) == 0 {
		err := domain.NewDomainError("Orchestrator.Start", domain.ErrInvalidRequest, "empty message list")
		tracer.RecordError(span, err)
		return nil, err
	}
	if err := validateTurnShape(req.Messages); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	provider, err := o.resolver.Route(req.Provider)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	schemas, err := compileToolSchemas(req.Tools)
	if err != nil {
		err = domain.NewDomainError("Orchestrator.Start", domain.ErrInvalidRequest, err.Error())
		tracer.RecordError(span, err)
		return nil, err
	}

	t := &Turn{
		orch:         o,
		provider:     provider,
		req:          req,
		state:        StateAwaitingModel,
		conversation: append([]domain.Message(nil), req.Messages...),
		schemas:      schemas,
	}

	if err := t.callModel(ctx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return t, nil
}

// Submit supplies tool results for the pending calls and re-invokes the
// model. The result set must cover every pending call id exactly once;
// otherwise the turn and its conversation are unmodified and the call
// fails with ErrIncompleteToolResults.
func (t *Turn) Submit(ctx context.Context, results []domain.ToolResult) (*Turn, error) {
	if t.state != StateExecutingTools {
		return t, domain.NewDomainError("Turn.Submit", domain.ErrInvalidRequest,
			fmt.Sprintf("turn in state %s, want %s", t.state, StateExecutingTools))
	}

	if err := t.validateResultSet(results); err != nil {
		return t, err
	}

	toolMsg := domain.Message{Role: domain.RoleTool}
	for _, res := range results {
		toolMsg.Parts = append(toolMsg.Parts, domain.ToolResultPart(res))
	}
	t.conversation = append(t.conversation, toolMsg)
	t.pending = nil

	if t.round >= t.orch.maxToolRounds {
		t.state = StateFailed
		t.failure = domain.NewDomainError("Turn.Submit", domain.ErrToolLoopExceeded,
			fmt.Sprintf("%d rounds", t.round))
		return t, t.failure
	}

	if err := t.callModel(ctx); err != nil {
		return t, err
	}
	return t, nil
}

// validateResultSet checks that results cover each pending call id
// exactly once with no strays.
func (t *Turn) validateResultSet(results []domain.ToolResult) error {
	return matchToolResults("Turn.Submit", t.pending, results)
}

func matchToolResults(op string, calls []domain.ToolCall, results []domain.ToolResult) error {
	want := make(map[string]bool, len(calls))
	for _, call := range calls {
		want[call.ID] = false
	}
	for _, res := range results {
		seen, ok := want[res.CallID]
		if !ok {
			return domain.NewDomainError(op, domain.ErrIncompleteToolResults,
				fmt.Sprintf("result for unknown call id %q", res.CallID))
		}
		if seen {
			return domain.NewDomainError(op, domain.ErrIncompleteToolResults,
				fmt.Sprintf("duplicate result for call id %q", res.CallID))
		}
		want[res.CallID] = true
	}
	for id, seen := range want {
		if !seen {
			return domain.NewDomainError(op, domain.ErrIncompleteToolResults,
				fmt.Sprintf("missing result for call id %q", id))
		}
	}
	return nil
}

// validateTurnShape enforces the turn entry contract: the conversation
// must end with a user message, or with a tool message whose results
// cover every tool call issued by the preceding assistant message.
func validateTurnShape(messages []domain.Message) error {
	last := messages[len(messages)-1]
	if last.Role == domain.RoleUser {
		return nil
	}

	results := last.ToolResults()
	if len(results) == 0 {
		return domain.NewDomainError("Orchestrator.Start", domain.ErrInvalidRequest,
			fmt.Sprintf("conversation ends with %s message, want user message or tool results", last.Role))
	}

	var calls []domain.ToolCall
	for i := len(messages) - 2; i >= 0; i-- {
		if messages[i].Role == domain.RoleAssistant {
			calls = messages[i].ToolCalls()
			break
		}
	}
	if len(calls) == 0 {
		return domain.NewDomainError("Orchestrator.Start", domain.ErrInvalidRequest,
			"tool results without a preceding assistant tool call")
	}
	return matchToolResults("Orchestrator.Start", calls, results)
}

// callModel performs one model round trip and inspects the response.
func (t *Turn) callModel(ctx context.Context) error {
	t.state = StateAwaitingModel
	t.round++

	req := t.req.Clone()
	req.Messages = t.conversation

	resp, err := t.provider.Complete(ctx, req)
	if err != nil {
		t.state = StateFailed
		t.failure = err
		return err
	}

	t.usage.Add(resp.Usage)
	t.state = StateInspecting
	t.conversation = append(t.conversation, resp.Message)

	calls := resp.Message.ToolCalls()
	if len(calls) == 0 {
		t.state = StateFinished
		t.final = resp
		return nil
	}

	if err := t.validateToolCalls(calls); err != nil {
		t.state = StateFailed
		t.failure = err
		return err
	}

	t.orch.logger.Debug("tool calls pending",
		"round", t.round, "count", len(calls))
	t.pending = calls
	t.state = StateExecutingTools
	return nil
}

// validateToolCalls rejects calls naming undeclared tools and arguments
// that fail the declared parameter schema.
func (t *Turn) validateToolCalls(calls []domain.ToolCall) error {
	for _, call := range calls {
		schema, declared := t.schemas[call.Name]
		if !declared {
			return domain.NewDomainError("Orchestrator", domain.ErrInvalidRequest,
				fmt.Sprintf("model called undeclared tool %q", call.Name))
		}
		if schema == nil {
			continue
		}

		var args any
		raw := call.Arguments
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return domain.NewDomainError("Orchestrator", domain.ErrInvalidRequest,
				fmt.Sprintf("tool %q arguments are not valid JSON: %v", call.Name, err))
		}
		if result := schema.Validate(args); !result.IsValid() {
			return domain.NewDomainError("Orchestrator", domain.ErrInvalidRequest,
				fmt.Sprintf("tool %q arguments: %s", call.Name, result.Error()))
		}
	}
	return nil
}

// compileToolSchemas compiles each declared parameter schema once per
// turn. Declarations without a schema map to a nil entry, meaning any
// arguments are accepted for that tool.
func compileToolSchemas(tools []domain.ToolDeclaration) (map[string]*jsonschema.Schema, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		if len(tool.Parameters) == 0 || string(tool.Parameters) == "null" {
			schemas[tool.Name] = nil
			continue
		}
		schema, err := compiler.Compile([]byte(tool.Parameters))
		if err != nil {
			return nil, fmt.Errorf("tool %q: invalid parameter schema: %w", tool.Name, err)
		}
		schemas[tool.Name] = schema
	}
	return schemas, nil
}

// Run drives a full turn to completion with a caller-supplied executor.
// It loops Start and Submit until the turn finishes or fails.
func (o *Orchestrator) Run(ctx context.Context, req domain.CompletionRequest, executor domain.ToolExecutor) (*domain.CompletionResponse, error) {
	t, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	for t.State() == StateExecutingTools {
		results, err := executor.Execute(ctx, t.Pending())
		if err != nil {
			t.state = StateFailed
			t.failure = err
			return nil, err
		}
		if _, err := t.Submit(ctx, results); err != nil {
			return nil, err
		}
	}

	if t.State() == StateFailed {
		return nil, t.Err()
	}
	return t.Final(), nil
}
