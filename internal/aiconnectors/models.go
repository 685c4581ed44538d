package aiconnectors

// GetProviderModels returns the commonly used models for a provider
func GetProviderModels(provider Provider) []string {
	switch provider {
	case ProviderOpenAI:
		return []string{
			"gpt-4o",
			"gpt-4o-mini",
			"gpt-4.1",
		}
	case ProviderGemini:
		return []string{
			"gemini-2.5-flash",
			"gemini-2.5-pro",
		}
	case ProviderClaude:
		return []string{
			"claude-3-5-sonnet-latest",
			"claude-3-5-haiku-latest",
		}
	case ProviderCohere:
		return []string{
			"command-r",
			"command-r-plus",
		}
	case ProviderOllama:
		return []string{
			"llama3",
			"codellama",
			"qwen2.5-coder",
		}
	default:
		return []string{}
	}
}

// GetDefaultModel returns the default model for a provider
func GetDefaultModel(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderClaude:
		return "claude-3-5-sonnet-latest"
	case ProviderCohere:
		return "command-r"
	case ProviderOllama:
		return "llama3"
	default:
		return ""
	}
}
