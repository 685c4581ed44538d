package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prmerge/pkg/models"
)

// blobPrefix matches the "/<owner>/<repo>/blob/<branch>/" prefix some answers put on paths
var blobPrefix = regexp.MustCompile(`^/?[^/]+/[^/]+/blob/[^/]+/`)

// ParseEdits decodes a model answer of the form {"files": [{"path_to_file", "content"}]}.
// Every structural problem is reported as ErrMalformedModelOutput; nothing is guessed.
func ParseEdits(raw string, logger zerolog.Logger) ([]models.ResolutionEdit, error) {
	var envelope map[string]json.RawMessage
	if _, err := ProcessLLMResponse(raw, &envelope, logger); err != nil {
		return nil, malformed("model output is not a JSON object: %v", err)
	}

	filesRaw, ok := envelope["files"]
	if !ok || isNull(filesRaw) {
		return nil, malformed(`missing "files"`)
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(filesRaw, &entries); err != nil {
		return nil, malformed(`"files" is not an array of objects`)
	}

	edits := make([]models.ResolutionEdit, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		p, err := stringField(entry, "path_to_file")
		if err != nil {
			return nil, malformed("files[%d]: %v", i, err)
		}
		content, err := stringField(entry, "content")
		if err != nil {
			return nil, malformed("files[%d]: %v", i, err)
		}

		normalized, err := NormalizePath(p)
		if err != nil {
			return nil, malformed("files[%d]: %v", i, err)
		}
		if j, dup := seen[normalized]; dup {
			return nil, malformed("files[%d] and files[%d] both edit %s", j, i, normalized)
		}
		seen[normalized] = i

		edits = append(edits, models.ResolutionEdit{Path: normalized, Content: content})
	}
	return edits, nil
}

// NormalizePath turns a model-supplied path into a repository path
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if loc := blobPrefix.FindStringIndex(p); loc != nil && strings.HasPrefix(p, "/") {
		p = p[loc[1]:]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the repository", p)
	}
	return clean, nil
}

func stringField(entry map[string]json.RawMessage, name string) (string, error) {
	raw, ok := entry[name]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("missing %q", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%q is not a string", name)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformed(format string, args ...interface{}) error {
	return models.Newf(models.ErrMalformedModelOutput, "parse edits", format, args...)
}
