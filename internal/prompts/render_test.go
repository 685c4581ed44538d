package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SubstitutesVarsAndDefaults(t *testing.T) {
	tpl := "Hello {{VAR:name}}!\n\nLimit: {{VAR:limit|default=\"unlimited\"}}\n"

	out, err := Render(tpl, map[string]string{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Alice!\n\nLimit: unlimited\n", out)

	out, err = Render(tpl, map[string]string{"name": "Bob", "limit": "100"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!\n\nLimit: 100\n", out)
}

func TestRender_MissingVariable(t *testing.T) {
	_, err := Render("{{VAR:missing}}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestParsePlaceholders_OptionsParsing(t *testing.T) {
	body := "Intro {{VAR:title|default=\"(untitled)\"}} -- list {{VAR:list|join=\", \"}} -- policy {{VAR:policy|default='be kind\\nrespect'}}"
	phs := ParsePlaceholders(body)
	require.Len(t, phs, 3)

	// title
	assert.Equal(t, "title", phs[0].Name)
	if v, ok := phs[0].Options["default"]; assert.True(t, ok) {
		assert.Equal(t, "(untitled)", v)
	}

	// list joiner
	assert.Equal(t, "list", phs[1].Name)
	if v, ok := phs[1].Options["join"]; assert.True(t, ok) {
		assert.Equal(t, ", ", v)
	}

	// policy default with escaped newline decoded
	assert.Equal(t, "policy", phs[2].Name)
	if v, ok := phs[2].Options["default"]; assert.True(t, ok) {
		assert.Equal(t, "be kind\nrespect", v)
	}
}
