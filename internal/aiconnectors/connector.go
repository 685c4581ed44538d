package aiconnectors

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/jsonschema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai" // Use googleai instead of gemini
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type
type Provider string

const (
	// Provider types
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// ModelConfig contains the configuration for a specific model
type ModelConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	Model       string  `json:"model,omitempty"`
}

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider    Provider    `json:"provider"`
	APIKey      string      `json:"api_key"`
	BaseURL     string      `json:"base_url,omitempty"`
	ModelConfig ModelConfig `json:"model_config,omitempty"`
}

// CompletionRequest is one system + user exchange
type CompletionRequest struct {
	System     string
	User       string
	Schema     *jsonschema.Definition
	SchemaName string
	MaxTokens  int // overrides ModelConfig.MaxTokens when set
}

// Connector represents a connection to an AI provider
type Connector struct {
	provider Provider
	llm      llms.Model
	options  ConnectorOptions

	// OpenAI takes the response schema as a client option, so schema-bound clients are cached
	mu           sync.Mutex
	schemaModels map[string]llms.Model
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	if options.ModelConfig.Model == "" {
		options.ModelConfig.Model = GetDefaultModel(options.Provider)
	}

	zerolog.Ctx(ctx).Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.ModelConfig.Model).
		Float64("temperature", options.ModelConfig.Temperature).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = createAnthropicModel(options)
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return NewConnectorWithModel(options, model), nil
}

// NewConnectorWithModel wraps an already constructed model
func NewConnectorWithModel(options ConnectorOptions, model llms.Model) *Connector {
	return &Connector{
		provider:     options.Provider,
		llm:          model,
		options:      options,
		schemaModels: make(map[string]llms.Model),
	}
}

// Helper functions to create models for specific providers

func createOpenAIModel(options ConnectorOptions, extra ...openai.Option) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.ModelConfig.Model),
		openai.WithToken(options.APIKey),
	}

	// Add custom base URL if provided
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}

	return openai.New(append(opts, extra...)...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
	}
	if options.ModelConfig.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(options.ModelConfig.Model))
	}

	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}
	return model, nil
}

func createAnthropicModel(options ConnectorOptions) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.ModelConfig.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
	}

	return anthropic.New(opts...)
}

func createCohereModel(options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.ModelConfig.Model),
	}

	// Add custom base URL if provided
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}

	return cohere.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	// Set default server URL if not provided
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}

	opts := []ollama.Option{
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.ModelConfig.Model),
		ollama.WithFormat("json"),
	}

	return ollama.New(opts...)
}

// Complete sends the system and user turns and returns the text of the first choice.
// Every provider is asked for JSON; OpenAI additionally gets the schema as a strict
// response format.
func (c *Connector) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model, schemaBound, err := c.modelFor(req)
	if err != nil {
		return "", err
	}

	callOptions := []llms.CallOption{
		llms.WithTemperature(c.options.ModelConfig.Temperature),
	}
	maxTokens := c.options.ModelConfig.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(maxTokens))
	}
	if c.options.ModelConfig.TopP > 0 {
		callOptions = append(callOptions, llms.WithTopP(c.options.ModelConfig.TopP))
	}
	if !schemaBound {
		callOptions = append(callOptions, llms.WithJSONMode())
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.User),
	}

	zerolog.Ctx(ctx).Debug().
		Str("provider", string(c.provider)).
		Str("model", c.options.ModelConfig.Model).
		Int("max_tokens", maxTokens).
		Bool("schema", schemaBound).
		Int("prompt_chars", len(req.System)+len(req.User)).
		Msg("Sending completion request")

	resp, err := model.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", c.provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.provider)
	}
	return resp.Choices[0].Content, nil
}

func (c *Connector) modelFor(req CompletionRequest) (llms.Model, bool, error) {
	if c.provider != ProviderOpenAI || req.Schema == nil {
		return c.llm, false, nil
	}

	name := req.SchemaName
	if name == "" {
		name = "response"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.schemaModels[name]; ok {
		return m, true, nil
	}
	m, err := createOpenAIModel(c.options, openai.WithResponseFormat(ResponseFormat(name, req.Schema)))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create schema-bound OpenAI model: %w", err)
	}
	c.schemaModels[name] = m
	return m, true, nil
}

// ResponseFormat converts a schema into an OpenAI strict json_schema response format. Strict
// mode requires every object to forbid additional properties.
func ResponseFormat(name string, schema *jsonschema.Definition) *openai.ResponseFormat {
	return &openai.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &openai.ResponseFormatJSONSchema{
			Name:   name,
			Strict: true,
			Schema: schemaProperty(schema),
		},
	}
}

func schemaProperty(def *jsonschema.Definition) *openai.ResponseFormatJSONSchemaProperty {
	if def == nil {
		return nil
	}
	prop := &openai.ResponseFormatJSONSchemaProperty{
		Type:        string(def.Type),
		Description: def.Description,
		Items:       schemaProperty(def.Items),
		Required:    def.Required,
	}
	for _, v := range def.Enum {
		prop.Enum = append(prop.Enum, v)
	}
	if len(def.Properties) > 0 {
		prop.Properties = make(map[string]*openai.ResponseFormatJSONSchemaProperty, len(def.Properties))
		for k, v := range def.Properties {
			prop.Properties[k] = schemaProperty(&v)
		}
	}
	return prop
}

// GetProvider returns the provider of this connector
func (c *Connector) GetProvider() Provider {
	return c.provider
}

// GetModel returns the model name from the config
func (c *Connector) GetModel() string {
	return c.options.ModelConfig.Model
}

// ParseProvider maps a configured name onto a provider. "anthropic" and "google" are accepted
// as aliases.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return ProviderOpenAI, nil
	case "gemini", "google", "googleai":
		return ProviderGemini, nil
	case "claude", "anthropic":
		return ProviderClaude, nil
	case "cohere":
		return ProviderCohere, nil
	case "ollama":
		return ProviderOllama, nil
	}
	return "", fmt.Errorf("unsupported provider: %s", name)
}
