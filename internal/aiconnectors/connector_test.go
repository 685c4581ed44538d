package aiconnectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/prmerge/internal/prompts"
)

// fakeModel records the last call and answers with a canned response
type fakeModel struct {
	response string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	f.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.response}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestComplete_SendsSystemAndUserTurns(t *testing.T) {
	model := &fakeModel{response: `{"files": []}`}
	c := NewConnectorWithModel(ConnectorOptions{
		Provider:    ProviderClaude,
		ModelConfig: ModelConfig{Temperature: 0.2, MaxTokens: 1000},
	}, model)

	out, err := c.Complete(context.Background(), CompletionRequest{
		System:    "sys",
		User:      "usr",
		Schema:    prompts.ResolutionSchema(),
		MaxTokens: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"files": []}`, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "usr"}, model.messages[1].Parts[0])

	assert.Equal(t, 500, model.options.MaxTokens)
	assert.True(t, model.options.JSONMode)
	assert.InDelta(t, 0.2, model.options.Temperature, 1e-9)
}

func TestComplete_PropagatesErrors(t *testing.T) {
	c := NewConnectorWithModel(ConnectorOptions{Provider: ProviderCohere}, &fakeModel{err: fmt.Errorf("boom")})
	_, err := c.Complete(context.Background(), CompletionRequest{System: "s", User: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestComplete_OpenAISendsJSONSchema(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"files\": []}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	}))
	defer server.Close()

	c, err := NewConnector(context.Background(), ConnectorOptions{
		Provider: ProviderOpenAI,
		APIKey:   "sk-test",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), CompletionRequest{
		System:     "sys",
		User:       "usr",
		Schema:     prompts.ResolutionSchema(),
		SchemaName: prompts.ResolutionSchemaName,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"files": []}`, out)

	format, ok := body["response_format"].(map[string]interface{})
	require.True(t, ok, "response_format missing from request")
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]interface{})
	assert.Equal(t, prompts.ResolutionSchemaName, schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestResponseFormat(t *testing.T) {
	rf := ResponseFormat("x", prompts.ResolutionSchema())
	require.NotNil(t, rf.JSONSchema)
	files := rf.JSONSchema.Schema.Properties["files"]
	require.NotNil(t, files)
	assert.Equal(t, "array", files.Type)
	assert.ElementsMatch(t, []string{"path_to_file", "content"}, files.Items.Required)
	assert.False(t, files.Items.AdditionalProperties)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("Anthropic")
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, p)

	p, err = ParseProvider("google")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p)

	_, err = ParseProvider("octoai")
	assert.Error(t, err)
}

func TestFetchOllamaModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models": [{"name": "llama3:latest"}]}`)
	}))
	defer server.Close()

	models, err := FetchOllamaModels(context.Background(), server.URL, "")
	require.NoError(t, err)
	require.Len(t, models, 1)

	assert.NoError(t, ValidateOllamaConnection(context.Background(), server.URL, "", "llama3"))
	assert.Error(t, ValidateOllamaConnection(context.Background(), server.URL, "", "mistral"))
}
