package config

import "fmt"

var knownProviderTypes = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"grok":       true,
	"openrouter": true,
	"ollama":     true,
	"bedrock":    true,
}

// Validate checks the configuration for internal consistency. It does not
// verify credentials or reach the network.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		if !knownProviderTypes[p.Type] {
			return fmt.Errorf("config: provider %q: unknown type %q", p.Name, p.Type)
		}
		// Ollama runs locally and Bedrock uses the AWS credential chain;
		// everything else needs a key.
		if p.APIKey == "" && p.Type != "ollama" && p.Type != "bedrock" {
			return fmt.Errorf("config: provider %q: api_key is required for type %q", p.Name, p.Type)
		}
		if p.RateLimit < 0 {
			return fmt.Errorf("config: provider %q: rate_limit must be >= 0", p.Name)
		}
	}

	// Fallbacks may reference providers declared later, so check them
	// after the full name set is known.
	for _, p := range c.Providers {
		for _, fb := range p.Fallbacks {
			if fb == p.Name {
				return fmt.Errorf("config: provider %q: fallback references itself", p.Name)
			}
			if !seen[fb] {
				return fmt.Errorf("config: provider %q: fallback %q is not a configured provider", p.Name, fb)
			}
		}
	}

	if c.Default != "" && !seen[c.Default] {
		return fmt.Errorf("config: default_provider %q is not a configured provider", c.Default)
	}

	if c.Orchestrator.MaxToolRounds < 0 {
		return fmt.Errorf("config: orchestrator.max_tool_rounds must be >= 0")
	}

	return nil
}
