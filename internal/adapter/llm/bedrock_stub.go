//go:build !bedrock

package llm

import (
	"fmt"
	"log/slog"

	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
)

func createBedrockProvider(_ config.ProviderConfig, _ *slog.Logger) (domain.Provider, error) {
	return nil, fmt.Errorf("bedrock provider requires build with -tags bedrock")
}
