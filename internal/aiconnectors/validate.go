package aiconnectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// ValidateAPIKey checks that the configured provider answers a minimal request. An invalid key
// is reported as (false, nil); a quota failure is returned as an error since the key itself works.
func ValidateAPIKey(ctx context.Context, options ConnectorOptions) (bool, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("provider", string(options.Provider)).
		Str("api_key", maskKey(options.APIKey)).
		Str("base_url", options.BaseURL).
		Msg("Starting API key validation")

	// For Ollama, validate by trying to fetch models instead of text generation
	if options.Provider == ProviderOllama {
		if err := ValidateOllamaConnection(ctx, options.BaseURL, options.APIKey, options.ModelConfig.Model); err != nil {
			logger.Error().Err(err).Str("base_url", options.BaseURL).Msg("Ollama validation failed")
			return false, nil
		}
		return true, nil
	}

	connector, err := NewConnector(ctx, options)
	if err != nil {
		return false, fmt.Errorf("failed to create connector: %w", err)
	}

	_, err = llms.GenerateFromSinglePrompt(ctx, connector.llm, "test", llms.WithMaxTokens(10))
	if err != nil {
		logger.Error().Err(err).
			Str("provider", string(options.Provider)).
			Str("model", connector.GetModel()).
			Str("error_type", fmt.Sprintf("%T", err)).
			Msg("API key validation failed with error")

		errStr := strings.ToLower(err.Error())
		if strings.Contains(errStr, "429") || strings.Contains(errStr, "quota") {
			return false, fmt.Errorf("quota exceeded - this typically means the API key is valid but has reached its rate limit: %w", err)
		}
		return false, nil
	}

	logger.Debug().Str("provider", string(options.Provider)).Msg("API key validation successful")
	return true, nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
