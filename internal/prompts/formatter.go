package prompts

import (
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/jsonschema"

	"github.com/prmerge/internal/snapshot"
	"github.com/prmerge/pkg/models"
)

// Request is a formatted completion request
type Request struct {
	System     string
	User       string
	Schema     *jsonschema.Definition
	SchemaName string
}

// Formatter turns a snapshot into a completion request
type Formatter struct {
	// ContextLimit caps each context listing, in characters. Zero disables truncation.
	ContextLimit int
}

// NewFormatter creates a formatter
func NewFormatter(contextLimit int) *Formatter {
	return &Formatter{ContextLimit: contextLimit}
}

// Format builds the request. Conflicting file bodies are sent whole; master, pr, added and
// deleted listings are truncated to ContextLimit.
func (f *Formatter) Format(snap *models.PRSnapshot) (*Request, error) {
	if snap == nil {
		return nil, fmt.Errorf("no snapshot to format")
	}

	system, err := f.SystemPrompt()
	if err != nil {
		return nil, err
	}

	doc := snapshot.NewDocument(snap)
	for _, listing := range [][]snapshot.FileEntry{doc.MasterFiles, doc.PRFiles, doc.AddedFiles, doc.DeletedFiles} {
		for i := range listing {
			listing[i].Content = Truncate(listing[i].Content, f.ContextLimit)
		}
	}
	user, err := doc.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot document: %w", err)
	}

	return &Request{
		System:     system,
		User:       string(user),
		Schema:     ResolutionSchema(),
		SchemaName: ResolutionSchemaName,
	}, nil
}

// SystemPrompt renders the system prompt
func (f *Formatter) SystemPrompt() (string, error) {
	vars := map[string]string{
		"output_format": JSONStructureExample,
		"example":       ExampleExchange,
	}
	if f.ContextLimit > 0 {
		vars["context_limit"] = strconv.Itoa(f.ContextLimit)
	}
	return Render(SystemTemplate, vars)
}

// Truncate cuts text to limit characters and appends a marker naming how many were dropped.
// A limit of zero or less returns text unchanged.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + fmt.Sprintf(TruncationMarker, len(runes)-limit)
}
