//go:build bedrock

package llm

import (
	"log/slog"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
	return NewBedrockProvider(pc, logger)
}
