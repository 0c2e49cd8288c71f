package domain

import "context"

// Provider is the interface for any LLM vendor adapter. Adapters are
// stateless per call: one outbound network call per Complete or Stream
// invocation, no internal retries.
type Provider interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Supports reports whether the vendor can handle the given content kind.
	Supports(kind ContentKind) bool
	// Name returns the provider's identifier (e.g. "openai", "grok").
	Name() string
}

// StreamingProvider extends Provider with token streaming. The returned
// channel is lazy and finite: it ends with exactly one Done event or one
// terminal Error event, after which it is closed and the underlying
// transport released. The sequence is not restartable on its own; crash
// resumption is the journal's concern.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// ResumableStreamingProvider is implemented by vendors whose wire protocol
// supports reconnecting to an existing stream at a content cursor. The
// journal type-asserts for it on resume; none of the shipped HTTP vendors
// implement it, so the journal falls back to a single re-issue with
// offset-based deduplication.
type ResumableStreamingProvider interface {
	StreamingProvider
	// ResumeStream reattaches to the stream for req, skipping the first
	// offset content bytes that were already delivered.
	ResumeStream(ctx context.Context, req CompletionRequest, offset int64) (<-chan StreamEvent, error)
}
