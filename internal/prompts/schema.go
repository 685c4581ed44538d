package prompts

import "github.com/tmc/langchaingo/jsonschema"

// ResolutionSchemaName names the schema for providers that require one
const ResolutionSchemaName = "conflict_resolution"

// ResolutionSchema returns the schema of {"files": [{"path_to_file", "content"}]}. Every
// property is required; providers that support strict output also forbid extra properties.
func ResolutionSchema() *jsonschema.Definition {
	edit := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"path_to_file": {Type: jsonschema.String, Description: "Repository path of the resolved file"},
			"content":      {Type: jsonschema.String, Description: "Complete resolved file content"},
		},
		Required: []string{"path_to_file", "content"},
	}
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"files": {Type: jsonschema.Array, Items: &edit},
		},
		Required: []string{"files"},
	}
}
