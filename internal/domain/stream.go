package domain

// StreamEventKind identifies which variant of a StreamEvent is active.
type StreamEventKind string

const (
	StreamText     StreamEventKind = "text_delta"
	StreamToolCall StreamEventKind = "tool_call_delta"
	StreamUsage    StreamEventKind = "usage"
	StreamDone     StreamEventKind = "done"
	StreamError    StreamEventKind = "error"
)

// ToolCallDelta is a partial tool-call fragment emitted during streaming.
// ID and Name are set on the first fragment of a call; Arguments carries
// an incremental slice of the argument JSON.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is a single event in a streaming response. Seq is assigned
// by the journal at commit time; adapters leave it zero.
type StreamEvent struct {
	Kind         StreamEventKind `json:"kind"`
	Seq          uint64          `json:"seq,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCall     *ToolCallDelta  `json:"tool_call,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	ErrorCode    ErrorCode       `json:"error_code,omitempty"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
}

// TextDeltaEvent creates a text-delta stream event.
func TextDeltaEvent(text string) StreamEvent {
	return StreamEvent{Kind: StreamText, Text: text}
}

// ToolCallDeltaEvent creates a tool-call-delta stream event.
func ToolCallDeltaEvent(delta ToolCallDelta) StreamEvent {
	return StreamEvent{Kind: StreamToolCall, ToolCall: &delta}
}

// UsageEvent creates a usage stream event.
func UsageEvent(usage Usage) StreamEvent {
	return StreamEvent{Kind: StreamUsage, Usage: &usage}
}

// DoneEvent creates the terminal done event.
func DoneEvent(finishReason string) StreamEvent {
	return StreamEvent{Kind: StreamDone, FinishReason: finishReason}
}

// ErrorEvent creates a terminal error event from err.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Kind: StreamError, ErrorCode: ErrorCodeOf(err), ErrorDetail: err.Error()}
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == StreamDone || e.Kind == StreamError
}

// ContentLen returns the number of content bytes the event contributes to
// the resumption watermark: text bytes for text deltas, argument bytes for
// tool-call deltas, zero for everything else.
func (e StreamEvent) ContentLen() int {
	switch e.Kind {
	case StreamText:
		return len(e.Text)
	case StreamToolCall:
		if e.ToolCall != nil {
			return len(e.ToolCall.Arguments)
		}
	}
	return 0
}
