package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
	"llmrelay/internal/infra/logger"
)

func TestGrokProviderOptionsInlined(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)

		json.NewEncoder(w).Encode(openaiResponse{
			ID: "x1",
			Choices: []openaiChoice{
				{Message: openaiRespMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"},
			},
			Usage: openaiUsage{TotalTokens: 3},
		})
	}))
	defer server.Close()

	provider := NewGrokProvider(config.ProviderConfig{
		Name:    "grok",
		BaseURL: server.URL,
		APIKey:  "xai-key",
		Model:   "grok-3",
	}, logger.Discard(), false)

	_, err := provider.Complete(context.Background(), domain.CompletionRequest{
		Messages: []domain.Message{userMessage("hi")},
		ProviderOptions: map[string]string{
			"reasoning_effort": "high",
			"seed":             "42",
			"top_logprobs":     "5",
			"made_up_option":   "dropped",
			"user":             "tester",
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if captured["reasoning_effort"] != "high" {
		t.Errorf("reasoning_effort = %v", captured["reasoning_effort"])
	}
	if captured["seed"] != float64(42) {
		t.Errorf("seed = %v, want number 42", captured["seed"])
	}
	if captured["top_logprobs"] != float64(5) {
		t.Errorf("top_logprobs = %v", captured["top_logprobs"])
	}
	if captured["user"] != "tester" {
		t.Errorf("user = %v", captured["user"])
	}
	if _, present := captured["made_up_option"]; present {
		t.Error("unrecognized option sent to vendor")
	}
}

func TestGrokExtraRejectsNonNumeric(t *testing.T) {
	extra := grokExtra(map[string]string{
		"seed": "not-a-number",
	})
	if _, present := extra["seed"]; present {
		t.Error("non-numeric seed should be dropped")
	}
}

func TestGrokProviderName(t *testing.T) {
	provider := NewGrokProvider(config.ProviderConfig{Name: "grok", Model: "grok-3"}, logger.Discard(), false)
	if provider.Name() != "grok" {
		t.Errorf("Name = %q", provider.Name())
	}
	if !provider.Supports(domain.ContentImage) {
		t.Error("grok should accept image content")
	}
}
