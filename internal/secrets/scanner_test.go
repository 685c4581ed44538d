package secrets

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prmerge/pkg/models"
)

// assembled at runtime so the repository itself does not carry a token-shaped literal
var token = "ghp_" + "8kQz2Lw9XyTn4Rb7" + "Vc1Md6Hf3Js5Pa0Ge2Ku"

func snapshotWith(path, base, head string) *models.PRSnapshot {
	return &models.PRSnapshot{
		Files: []models.FileRevisionPair{{Path: path, BaseContent: &base, HeadContent: &head}},
	}
}

func TestCheck_ReportsNewSecret(t *testing.T) {
	s, err := NewScanner(false)
	require.NoError(t, err)

	edits := []models.ResolutionEdit{{Path: "config.go", Content: "package config\n\nvar githubToken = \"" + token + "\"\n"}}
	findings, err := s.Check(edits, snapshotWith("config.go", "package config\n", "package config\n"), zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.Equal(t, "config.go", findings[0].Path)
	assert.Positive(t, findings[0].Line)
}

func TestCheck_BlockReturnsUnsafeContent(t *testing.T) {
	s, err := NewScanner(true)
	require.NoError(t, err)

	edits := []models.ResolutionEdit{{Path: "config.go", Content: "token := \"" + token + "\"\n"}}
	findings, err := s.Check(edits, nil, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsafeContent)
	assert.NotEmpty(t, findings)
}

func TestCheck_IgnoresSecretsAlreadyInHead(t *testing.T) {
	s, err := NewScanner(true)
	require.NoError(t, err)

	existing := "token := \"" + token + "\"\n"
	edits := []models.ResolutionEdit{{Path: "config.go", Content: existing + "// merged\n"}}
	findings, err := s.Check(edits, snapshotWith("config.go", "", existing), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheck_CleanContent(t *testing.T) {
	s, err := NewScanner(true)
	require.NoError(t, err)

	findings, err := s.Check([]models.ResolutionEdit{{Path: "a.txt", Content: "hello\nworld\n"}}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, findings)
}
