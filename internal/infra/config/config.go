package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	Providers    []ProviderConfig   `yaml:"providers"`
	Default      string             `yaml:"default_provider,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Journal      JournalConfig      `yaml:"journal"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`

	// TraceCommunication enables debug logging of raw vendor request and
	// response bodies. Off by default; credentials are never logged either way.
	TraceCommunication bool `yaml:"trace_communication"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai | anthropic | grok | openrouter | ollama | bedrock
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"` // bedrock only
	ConnTimeout time.Duration `yaml:"conn_timeout,omitempty"`
	RespTimeout time.Duration `yaml:"resp_timeout,omitempty"`
	Pool        PoolConfig    `yaml:"pool,omitempty"`

	// Optional resilience wrappers.
	RateLimit      float64              `yaml:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	RateBurst      int                  `yaml:"rate_burst,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	Fallbacks      []string             `yaml:"fallbacks,omitempty"` // providers tried in order on transient failure
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker settings for a provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

// OrchestratorConfig holds tool-loop settings.
type OrchestratorConfig struct {
	MaxToolRounds int           `yaml:"max_tool_rounds,omitempty"` // 0 = default (10)
	CallTimeout   time.Duration `yaml:"call_timeout,omitempty"`    // per model call, 0 = none
}

// JournalConfig holds streaming resumption journal settings.
type JournalConfig struct {
	Path string `yaml:"path"` // SQLite database path; ":memory:" for volatile
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug | info | warn | error
	Format string `yaml:"format,omitempty"` // text | json
	Output string `yaml:"output,omitempty"` // stdout | stderr | file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter,omitempty"` // stdout | noop
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.MaxToolRounds <= 0 {
		c.Orchestrator.MaxToolRounds = 10
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "llmrelay-journal.db"
	}
	if c.Default == "" && len(c.Providers) > 0 {
		c.Default = c.Providers[0].Name
	}
}
