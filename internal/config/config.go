package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/prmerge/internal/batch"
	"github.com/prmerge/pkg/models"
)

// EnvPrefix is the prefix of environment overrides. A double underscore separates sections,
// so PRMERGE_GENERAL__UPDATE_MODE sets general.update_mode.
const EnvPrefix = "PRMERGE_"

// ProviderConfig configures one code host
type ProviderConfig struct {
	Token             string  `koanf:"token"`
	BaseURL           string  `koanf:"base_url"`
	TimeoutSeconds    int     `koanf:"timeout_seconds"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	RepoPath          string  `koanf:"repo_path"`
}

// AIConfig configures one completion backend
type AIConfig struct {
	APIKey         string  `koanf:"api_key"`
	Model          string  `koanf:"model"`
	BaseURL        string  `koanf:"base_url"`
	Temperature    float64 `koanf:"temperature"`
	MaxTokens      int     `koanf:"max_tokens"`
	TimeoutSeconds int     `koanf:"timeout_seconds"`
	// Retries resends a request that failed with a retryable error; 0 sends it once
	Retries        int     `koanf:"retries"`
}

// Config represents the application configuration
type Config struct {
	General struct {
		DefaultProvider string `koanf:"default_provider"`
		DefaultAI       string `koanf:"default_ai"`
		Concurrency     int    `koanf:"concurrency"`
		UpdateMode      string `koanf:"update_mode"`
		CommitMessage   string `koanf:"commit_message"`
	} `koanf:"general"`

	Providers map[string]ProviderConfig `koanf:"providers"`
	AI        map[string]AIConfig       `koanf:"ai"`
	Batch     map[string]interface{}    `koanf:"batch"`

	Prompt struct {
		ContextLimit int `koanf:"context_limit"`
	} `koanf:"prompt"`

	Safety struct {
		SecretScan           bool `koanf:"secret_scan"`
		BlockOnSecret        bool `koanf:"block_on_secret"`
		AllowConflictMarkers bool `koanf:"allow_conflict_markers"`
	} `koanf:"safety"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.default_provider":      "github",
		"general.default_ai":            "openai",
		"general.concurrency":           4,
		"general.update_mode":           "direct",
		"general.commit_message":        "Auto-merge: Apply LLM suggestions",
		"prompt.context_limit":          0,
		"safety.secret_scan":            true,
		"safety.block_on_secret":        false,
		"safety.allow_conflict_markers": false,
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, models.Wrap(models.ErrConfig, "load defaults", err)
	}

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, models.Wrap(models.ErrConfig, "load config", fmt.Errorf("error loading %s: %w", configPath, err))
		}
	} else {
		defaultPaths := []string{"./prmerge.toml", "$HOME/.prmerge.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix PRMERGE_
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, models.Wrap(models.ErrConfig, "load environment", err)
	}

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, models.Wrap(models.ErrConfig, "load config", fmt.Errorf("error unmarshalling config: %w", err))
	}

	return &config, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# prmerge configuration

[general]
default_provider = "github"
default_ai = "openai"
concurrency = 4
update_mode = "direct"   # or "rebase"
commit_message = "Auto-merge: Apply LLM suggestions"

[providers.github]
# token may also come from GITHUB_TOKEN or GITHUB_PAT
token = ""
base_url = "https://api.github.com"
timeout_seconds = 30
requests_per_second = 10

[providers.local]
repo_path = "."

[ai.openai]
api_key = "your-openai-api-key"
model = "gpt-4o"
temperature = 0.2
max_tokens = 16000
timeout_seconds = 180
retries = 0

[prompt]
# 0 keeps context files whole
context_limit = 0

[safety]
secret_scan = true
block_on_secret = false
# commit files that still contain <<<<<<< / ======= / >>>>>>> blocks
allow_conflict_markers = false

[batch]
max_retries = 0
retry_delay_ms = 2000
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.General.DefaultProvider == "" {
		return invalid("default provider is required")
	}

	if config.General.DefaultAI == "" {
		return invalid("default AI provider is required")
	}

	switch config.General.DefaultProvider {
	case "github", "local":
	default:
		return invalid("unknown provider %s (want github or local)", config.General.DefaultProvider)
	}

	switch strings.ToLower(config.General.UpdateMode) {
	case "", "direct", "rebase":
	default:
		return invalid("unknown update_mode %s (want direct or rebase)", config.General.UpdateMode)
	}

	if config.General.Concurrency < 0 {
		return invalid("concurrency must not be negative")
	}
	if config.Prompt.ContextLimit < 0 {
		return invalid("prompt.context_limit must not be negative")
	}

	for name, ai := range config.AI {
		if ai.Retries < 0 {
			return invalid("ai.%s.retries must not be negative", name)
		}
	}

	if config.General.DefaultProvider == "local" && config.Provider("local").RepoPath == "" {
		return invalid("providers.local.repo_path is required")
	}

	aiConfig, ok := config.AI[config.General.DefaultAI]
	if !ok {
		return invalid("configuration for AI provider %s not found", config.General.DefaultAI)
	}
	if config.General.DefaultAI != "ollama" && aiConfig.APIKey == "" {
		return invalid("%s api_key is required", config.General.DefaultAI)
	}
	if config.General.DefaultAI == "ollama" && aiConfig.BaseURL == "" {
		return invalid("ollama base_url is required")
	}

	return nil
}

// Provider returns the settings for a host, zero valued when the section is absent
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// AIFor returns the settings for a completion backend, zero valued when the section is absent
func (c *Config) AIFor(name string) AIConfig {
	return c.AI[name]
}

// PoolConfig merges the [batch] table with general.concurrency
func (c *Config) PoolConfig() batch.Config {
	cfg := batch.ConfigFromMap(c.Batch)
	if c.General.Concurrency > 0 {
		cfg.MaxWorkers = c.General.Concurrency
	}
	return cfg
}

// Timeout converts a seconds setting, falling back to def when unset
func Timeout(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func invalid(format string, args ...interface{}) error {
	return models.Newf(models.ErrConfig, "validate config", format, args...)
}
