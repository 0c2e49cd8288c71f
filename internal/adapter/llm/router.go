package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
)

// Router holds named providers registered at process start and resolves
// requests to the adapter that serves them. Registration is closed once
// the process is serving; Route is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]domain.Provider),
	}
}

// Register adds a provider. Returns an error if the name is taken.
func (r *Router) Register(provider domain.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Route resolves a provider by name. Unknown names fail with
// domain.ErrUnknownProvider; the caller sees the offending name in the
// error detail.
func (r *Router) Route(name string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Router.Route", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Router) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRouter constructs and registers adapters for every configured
// provider, applying the optional rate-limit, circuit-breaker, and
// failover wrappers.
func BuildRouter(cfg *config.Config, logger *slog.Logger) (*Router, error) {
	built := make(map[string]domain.Provider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		provider, err := buildProvider(pc, logger, cfg.TraceCommunication)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}

		if pc.RateLimit > 0 {
			provider = NewRateLimitedProvider(provider, pc.RateLimit, pc.RateBurst)
		}
		if pc.CircuitBreaker.Enabled {
			provider = NewCircuitBreakerProvider(provider, CircuitBreakerConfig{
				MaxFailures: pc.CircuitBreaker.MaxFailures,
				Timeout:     pc.CircuitBreaker.Timeout,
				Interval:    pc.CircuitBreaker.Interval,
			}, logger)
		}
		built[pc.Name] = provider
	}

	// Failover wraps last so fallbacks resolve to fully wrapped providers,
	// including ones declared later in the config.
	for _, pc := range cfg.Providers {
		if len(pc.Fallbacks) == 0 {
			continue
		}
		fallbacks := make([]domain.Provider, 0, len(pc.Fallbacks))
		for _, name := range pc.Fallbacks {
			fb, ok := built[name]
			if !ok {
				return nil, fmt.Errorf("provider %s: fallback %q is not configured", pc.Name, name)
			}
			fallbacks = append(fallbacks, fb)
		}
		built[pc.Name] = NewFailoverProvider(built[pc.Name], fallbacks, logger)
	}

	router := NewRouter()
	for _, pc := range cfg.Providers {
		if err := router.Register(built[pc.Name]); err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
	}
	return router, nil
}

func buildProvider(pc config.ProviderConfig, logger *slog.Logger, trace bool) (domain.Provider, error) {
	switch pc.Type {
	case "openai":
		return NewOpenAIProvider(pc, logger, trace), nil
	case "anthropic":
		return NewAnthropicProvider(pc, logger, trace), nil
	case "grok":
		return NewGrokProvider(pc, logger, trace), nil
	case "openrouter":
		return NewOpenRouterProvider(pc, logger, trace), nil
	case "ollama":
		return NewOllamaProvider(pc, logger, trace), nil
	case "bedrock":
		return createBedrockProvider(pc, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
