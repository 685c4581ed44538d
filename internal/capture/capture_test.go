package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_WritesNumberedFiles(t *testing.T) {
	r, err := New(t.TempDir(), "0123456789abcdef", zerolog.Nop())
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(r.Dir()), "-01234567")

	first := r.WriteJSON("document", map[string]int{"a": 1})
	second := r.WriteBlob("model-output", "json", []byte(`{"files": []}`))

	assert.Equal(t, "0001-document.json", filepath.Base(first))
	assert.Equal(t, "0002-model-output.json", filepath.Base(second))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(data))
}

func TestRecorder_NilIsDisabled(t *testing.T) {
	r, err := New("", "run", zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Empty(t, r.WriteJSON("x", 1))
	assert.Empty(t, r.WriteBlob("x", "txt", nil))
	assert.Empty(t, r.Dir())
}
