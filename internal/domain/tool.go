package domain

import (
	"context"
	"encoding/json"
)

// ToolDeclaration describes a tool for the LLM function-calling protocol.
// The parameter schema is opaque to the core beyond JSON-schema validation
// of tool-call arguments at the orchestrator boundary.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a model-issued request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool, supplied by the caller.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolExecutor is the caller-owned boundary for tool execution. The
// orchestrator yields pending tool calls and expects one result per call;
// it never executes tools itself.
type ToolExecutor interface {
	// Execute runs the pending tool calls and returns one result per call.
	Execute(ctx context.Context, calls []ToolCall) ([]ToolResult, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, calls []ToolCall) ([]ToolResult, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, calls []ToolCall) ([]ToolResult, error) {
	return f(ctx, calls)
}
