package prompts

// System role definitions
const (
	// ResolverRole defines the AI role for conflict resolution
	ResolverRole = "You are a tool which resolves merge conflicts in pull requests"
)

// Core instruction templates
const (
	// ResolutionInstructions provides the main instructions for resolving conflicts
	ResolutionInstructions = `You receive a JSON document describing one pull request:
- "conflicting_files": files changed on both sides. Their content is the file with conflict markers:
  lines between "<<<<<<< HEAD" and "=======" come from the base branch,
  lines between "=======" and ">>>>>>> PR" come from the pull request.
- "master_files": full contents of changed files on the base branch.
- "pr_files": full contents of changed files in the pull request.
- "added_files": files the pull request adds, as patches.
- "deleted_files": files the pull request removes.

For every conflicting file, produce the complete resolved file content.
Keep the intent of both sides wherever they are compatible. Never leave conflict markers in the output.
If you cannot resolve a file, leave it out of the answer instead of guessing.`

	// ContextNote explains truncated listings
	ContextNote = `Listings other than "conflicting_files" longer than {{VAR:context_limit|default="unlimited"}} characters are cut and end with "... [truncated N characters]". Conflicting files are never cut.`

	// OutputRules restricts the answer format
	OutputRules = `OUTPUT RULES:
- Answer with JSON only, no prose and no code fences
- Use each file's path exactly as it appears in "conflicting_files"
- "content" is the full file, not a diff`
)

// JSON structure templates
const (
	// JSONStructureExample provides the expected JSON output format
	JSONStructureExample = `Format your response as JSON with the following structure:
` + "```json" + `
{
  "files": [
    {
      "path_to_file": "path/to/file.ext",
      "content": "full resolved content of the file"
    }
  ]
}
` + "```"

	// ExampleExchange shows one conflict and its answer
	ExampleExchange = `Example:

Input:
{
  "conflicting_files": [
    {
      "path": "notes/text.txt",
      "content": "<<<<<<< HEAD\nThis is the content in the main branch.\n=======\nThis is the content in the feature branch.\n>>>>>>> PR\n"
    }
  ],
  "master_files": [{"path": "notes/text.txt", "content": "This is the content in the main branch.\n"}],
  "pr_files": [{"path": "notes/text.txt", "content": "This is the content in the feature branch.\n"}],
  "added_files": [],
  "deleted_files": []
}

Answer:
{"files": [{"path_to_file": "notes/text.txt", "content": "This is the content in the feature branch.\n"}]}`
)

// SystemTemplate assembles the system prompt
const SystemTemplate = ResolverRole + ".\n\n" +
	ResolutionInstructions + "\n\n" +
	ContextNote + "\n\n" +
	OutputRules + "\n\n" +
	"{{VAR:output_format}}\n\n" +
	"{{VAR:example}}\n"

// TruncationMarker is appended to cut context listings
const TruncationMarker = "\n... [truncated %d characters]"
