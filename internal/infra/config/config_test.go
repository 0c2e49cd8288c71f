package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llmrelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: main
    type: openai
    api_key: sk-test
    model: gpt-4o
    resp_timeout: 90s
    rate_limit: 5
    rate_burst: 2
    circuit_breaker:
      enabled: true
      max_failures: 3
      timeout: 15s
  - name: local
    type: ollama
    base_url: http://localhost:11434
    model: llama3
default_provider: main
orchestrator:
  max_tool_rounds: 5
  call_timeout: 2m
journal:
  path: /tmp/journal.db
logger:
  level: debug
  format: json
trace_communication: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	main := cfg.Providers[0]
	if main.Type != "openai" || main.APIKey != "sk-test" || main.RespTimeout != 90*time.Second {
		t.Errorf("main provider = %+v", main)
	}
	if main.RateLimit != 5 || main.RateBurst != 2 {
		t.Errorf("rate limit = %v/%d", main.RateLimit, main.RateBurst)
	}
	if !main.CircuitBreaker.Enabled || main.CircuitBreaker.MaxFailures != 3 {
		t.Errorf("circuit breaker = %+v", main.CircuitBreaker)
	}
	if cfg.Default != "main" {
		t.Errorf("default = %q", cfg.Default)
	}
	if cfg.Orchestrator.MaxToolRounds != 5 || cfg.Orchestrator.CallTimeout != 2*time.Minute {
		t.Errorf("orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal path = %q", cfg.Journal.Path)
	}
	if !cfg.TraceCommunication {
		t.Error("trace_communication not set")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: local
    type: ollama
    model: llama3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.MaxToolRounds != 10 {
		t.Errorf("max_tool_rounds default = %d, want 10", cfg.Orchestrator.MaxToolRounds)
	}
	if cfg.Journal.Path != "llmrelay-journal.db" {
		t.Errorf("journal path default = %q", cfg.Journal.Path)
	}
	// First provider becomes the default when none is named.
	if cfg.Default != "local" {
		t.Errorf("default = %q, want local", cfg.Default)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"no providers",
			``,
			"at least one provider",
		},
		{
			"missing name",
			"providers:\n  - type: openai\n    api_key: k\n",
			"name is required",
		},
		{
			"duplicate name",
			"providers:\n  - name: a\n    type: ollama\n  - name: a\n    type: ollama\n",
			"duplicate provider name",
		},
		{
			"unknown type",
			"providers:\n  - name: a\n    type: cohere\n    api_key: k\n",
			"unknown type",
		},
		{
			"missing api key",
			"providers:\n  - name: a\n    type: anthropic\n",
			"api_key is required",
		},
		{
			"negative rate limit",
			"providers:\n  - name: a\n    type: ollama\n    rate_limit: -1\n",
			"rate_limit must be",
		},
		{
			"unknown default",
			"providers:\n  - name: a\n    type: ollama\ndefault_provider: ghost\n",
			"default_provider",
		},
		{
			"fallback references itself",
			"providers:\n  - name: a\n    type: ollama\n    fallbacks: [a]\n",
			"fallback references itself",
		},
		{
			"unknown fallback",
			"providers:\n  - name: a\n    type: ollama\n    fallbacks: [ghost]\n",
			"is not a configured provider",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestFallbackMayReferenceLaterProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: main
    type: openai
    api_key: k
    fallbacks: [local]
  - name: local
    type: ollama
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Providers[0].Fallbacks; len(got) != 1 || got[0] != "local" {
		t.Errorf("fallbacks = %v", got)
	}
}

func TestBedrockNeedsNoAPIKey(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: aws
    type: bedrock
    model: anthropic.claude-3-5-sonnet-20240620-v1:0
    region: us-west-2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].Region != "us-west-2" {
		t.Errorf("region = %q", cfg.Providers[0].Region)
	}
}
