package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"llmrelay/internal/domain"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount counts tokens in text with the cl100k_base encoding. When the
// encoding cannot be loaded (offline environments) it falls back to a
// bytes/4 heuristic, which is close enough for usage estimates.
func tokenCount(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// estimateUsage synthesizes token usage for providers that omit usage from
// their responses. Tool declarations and non-text content are not counted;
// the estimate covers message text plus a small per-message overhead.
func estimateUsage(req domain.CompletionRequest, reply domain.Message) domain.Usage {
	const perMessageOverhead = 4

	prompt := 0
	for _, m := range req.Messages {
		prompt += tokenCount(m.Text()) + perMessageOverhead
		for _, call := range m.ToolCalls() {
			prompt += tokenCount(string(call.Arguments))
		}
		for _, res := range m.ToolResults() {
			prompt += tokenCount(res.Content)
		}
	}

	completion := tokenCount(reply.Text()) + perMessageOverhead
	for _, call := range reply.ToolCalls() {
		completion += tokenCount(call.Name) + tokenCount(string(call.Arguments))
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
