package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentKind identifies which variant of a ContentPart is active.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImage      ContentKind = "image"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// ImageRef references image content either by URL or inline bytes.
// Detail is a vendor hint ("auto", "low", "high"); empty means auto.
type ImageRef struct {
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// ContentPart is a tagged variant over text, image, tool-call and
// tool-result content. Exactly one variant is populated per instance;
// Kind reports which.
type ContentPart struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Image      *ImageRef   `json:"image,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImagePart creates an image content part.
func ImagePart(img ImageRef) ContentPart {
	return ContentPart{Kind: ContentImage, Image: &img}
}

// ToolCallPart creates a tool-call content part.
func ToolCallPart(call ToolCall) ContentPart {
	return ContentPart{Kind: ContentToolCall, ToolCall: &call}
}

// ToolResultPart creates a tool-result content part.
func ToolResultPart(result ToolResult) ContentPart {
	return ContentPart{Kind: ContentToolResult, ToolResult: &result}
}

// Message represents a single message in a conversation: a role plus an
// ordered sequence of content parts. Messages are treated as immutable
// once appended to a conversation.
type Message struct {
	Role      string        `json:"role"`
	Parts     []ContentPart `json:"parts"`
	Name      string        `json:"name,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
}

// TextMessage creates a message with a single text part.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{TextPart(text)}}
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == ContentText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns all tool-call parts in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Kind == ContentToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns all tool-result parts in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Kind == ContentToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// HasKind reports whether any part has the given content kind.
func (m Message) HasKind(kind ContentKind) bool {
	for _, p := range m.Parts {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// CompletionRequest is sent to an LLM provider. GenParams are passed
// through to the vendor opaquely; ProviderOptions carry vendor-specific
// knobs as strings (e.g. "reasoning_effort" for Grok).
type CompletionRequest struct {
	Provider        string            `json:"provider,omitempty"`
	Model           string            `json:"model"`
	Messages        []Message         `json:"messages"`
	Tools           []ToolDeclaration `json:"tools,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	Temperature     float64           `json:"temperature,omitempty"`
	TopP            float64           `json:"top_p,omitempty"`
	StopSequences   []string          `json:"stop_sequences,omitempty"`
	ProviderOptions map[string]string `json:"provider_options,omitempty"`
}

// CompletionResponse is returned from an LLM provider.
type CompletionResponse struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Message      Message   `json:"message"`
	Usage        Usage     `json:"usage"`
	FinishReason string    `json:"finish_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another turn.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Clone returns a deep copy of the request's message slice so the
// orchestrator can accumulate output without mutating caller state.
func (r CompletionRequest) Clone() CompletionRequest {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Tools != nil {
		out.Tools = make([]ToolDeclaration, len(r.Tools))
		copy(out.Tools, r.Tools)
	}
	return out
}
