package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prmerge/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prmerge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "github", cfg.General.DefaultProvider)
	assert.Equal(t, "openai", cfg.General.DefaultAI)
	assert.Equal(t, 4, cfg.General.Concurrency)
	assert.Equal(t, "direct", cfg.General.UpdateMode)
	assert.Equal(t, "Auto-merge: Apply LLM suggestions", cfg.General.CommitMessage)
	assert.True(t, cfg.Safety.SecretScan)
	assert.False(t, cfg.Safety.BlockOnSecret)
	assert.False(t, cfg.Safety.AllowConflictMarkers)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[general]
default_ai = "claude"
concurrency = 8

[providers.github]
base_url = "https://ghe.example.com/api/v3"
timeout_seconds = 10

[ai.claude]
api_key = "sk-ant"
model = "claude-sonnet-4-0"
max_tokens = 8000
retries = 3

[prompt]
context_limit = 5000

[batch]
max_retries = 2
`)
	t.Setenv("PRMERGE_GENERAL__UPDATE_MODE", "rebase")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.General.DefaultAI)
	assert.Equal(t, "rebase", cfg.General.UpdateMode)
	assert.Equal(t, "https://ghe.example.com/api/v3", cfg.Provider("github").BaseURL)
	assert.Equal(t, 10*time.Second, Timeout(cfg.Provider("github").TimeoutSeconds, time.Minute))
	assert.Equal(t, "claude-sonnet-4-0", cfg.AIFor("claude").Model)
	assert.Equal(t, 3, cfg.AIFor("claude").Retries)
	assert.Equal(t, 5000, cfg.Prompt.ContextLimit)

	pool := cfg.PoolConfig()
	assert.Equal(t, 8, pool.MaxWorkers)
	assert.Equal(t, 2, pool.MaxRetries)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prmerge.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "existing file must not be overwritten")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, "gpt-4o", cfg.AIFor("openai").Model)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{AI: map[string]AIConfig{"openai": {APIKey: "k"}}}
		cfg.General.DefaultProvider = "github"
		cfg.General.DefaultAI = "openai"
		return cfg
	}
	require.NoError(t, Validate(base()))

	cases := map[string]func(*Config){
		"unknown provider": func(c *Config) { c.General.DefaultProvider = "gitlab" },
		"bad mode":         func(c *Config) { c.General.UpdateMode = "squash" },
		"missing ai":       func(c *Config) { c.General.DefaultAI = "gemini" },
		"missing key":      func(c *Config) { c.AI["openai"] = AIConfig{} },
		"local needs path": func(c *Config) { c.General.DefaultProvider = "local" },
		"negative limit":   func(c *Config) { c.Prompt.ContextLimit = -1 },
		"negative retries": func(c *Config) { c.AI["openai"] = AIConfig{APIKey: "k", Retries: -1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfig)
		})
	}
}
