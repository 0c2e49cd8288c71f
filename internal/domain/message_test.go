package domain

import (
	"encoding/json"
	"testing"
)

func TestMessageText(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []ContentPart{
		TextPart("Hello"),
		ImagePart(ImageRef{URL: "https://example.com/a.png"}),
		TextPart(", world"),
	}}
	if got := msg.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q", got)
	}
}

func TestMessageToolCalls(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []ContentPart{
		TextPart("let me check"),
		ToolCallPart(ToolCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)}),
		ToolCallPart(ToolCall{ID: "c2", Name: "fetch"}),
	}}

	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("ToolCalls() returned %d calls", len(calls))
	}
	if calls[0].ID != "c1" || calls[1].ID != "c2" {
		t.Errorf("call ids = %s, %s", calls[0].ID, calls[1].ID)
	}

	if !msg.HasKind(ContentToolCall) {
		t.Error("HasKind(tool_call) = false")
	}
	if msg.HasKind(ContentImage) {
		t.Error("HasKind(image) = true for text-and-tools message")
	}
}

func TestMessageToolResults(t *testing.T) {
	msg := Message{Role: RoleTool, Parts: []ContentPart{
		ToolResultPart(ToolResult{CallID: "c1", Content: "42"}),
		ToolResultPart(ToolResult{CallID: "c2", Content: "boom", IsError: true}),
	}}
	results := msg.ToolResults()
	if len(results) != 2 {
		t.Fatalf("ToolResults() returned %d", len(results))
	}
	if !results[1].IsError {
		t.Error("IsError lost")
	}
}

func TestRequestCloneIsolatesMessages(t *testing.T) {
	req := CompletionRequest{
		Model:    "m",
		Messages: []Message{TextMessage(RoleUser, "original")},
		Tools:    []ToolDeclaration{{Name: "t"}},
	}

	clone := req.Clone()
	clone.Messages = append(clone.Messages, TextMessage(RoleAssistant, "reply"))
	clone.Messages[0] = TextMessage(RoleUser, "mutated")

	if len(req.Messages) != 1 {
		t.Fatalf("original grew to %d messages", len(req.Messages))
	}
	if req.Messages[0].Text() != "original" {
		t.Errorf("original message mutated: %q", req.Messages[0].Text())
	}
}

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	if total.PromptTokens != 13 || total.CompletionTokens != 7 || total.TotalTokens != 20 {
		t.Errorf("accumulated usage = %+v", total)
	}
}
