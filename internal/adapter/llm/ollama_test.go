package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
	"llmrelay/internal/infra/logger"
)

func TestOllamaProviderCompleteViaV1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("ollama request should carry no auth header")
		}
		json.NewEncoder(w).Encode(openaiResponse{
			ID: "ollama-1",
			Choices: []openaiChoice{
				{Message: openaiRespMessage{Role: "assistant", Content: "local reply"}, FinishReason: "stop"},
			},
			Usage: openaiUsage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
		})
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.ProviderConfig{
		Name:    "ollama",
		BaseURL: server.URL,
		Model:   "llama3.2",
	}, logger.Discard(), false)

	resp, err := provider.Complete(context.Background(), domain.CompletionRequest{
		Messages: []domain.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Text() != "local reply" {
		t.Errorf("text = %q", resp.Message.Text())
	}
}

func TestOllamaProviderListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2","size":2000000000},{"name":"qwen2.5-coder","size":4700000000}]}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.ProviderConfig{
		Name:    "ollama",
		BaseURL: server.URL,
	}, logger.Discard(), false)

	models, err := provider.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "llama3.2" {
		t.Errorf("model name = %q", models[0].Name)
	}
}

func TestOllamaProviderIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.ProviderConfig{
		Name:    "ollama",
		BaseURL: server.URL,
	}, logger.Discard(), false)

	if !provider.IsHealthy(context.Background()) {
		t.Error("expected healthy")
	}

	server.Close()
	if provider.IsHealthy(context.Background()) {
		t.Error("expected unhealthy after close")
	}
}

func TestOllamaProviderWarmup(t *testing.T) {
	warmed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			warmed = true
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["model"] != "llama3.2" {
				t.Errorf("warmup model = %v", payload["model"])
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewOllamaProvider(config.ProviderConfig{
		Name:    "ollama",
		BaseURL: server.URL,
		Model:   "llama3.2",
	}, logger.Discard(), false)

	if err := provider.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if !warmed {
		t.Error("warmup request never hit /api/generate")
	}
}
