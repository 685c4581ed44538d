package conflict

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders a unified diff between two revisions of path with three lines of context.
// It is used as the file patch when the host does not report one.
func UnifiedDiff(path, baseText, headText string) string {
	if baseText == headText {
		return ""
	}
	ud := difflib.UnifiedDiff{
		A:        splitKeepEnds(baseText),
		B:        splitKeepEnds(headText),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return text
}

// AddedPatch renders the whole of text as additions
func AddedPatch(path, text string) string {
	return UnifiedDiff(path, "", text)
}

func splitKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if last := lines[len(lines)-1]; !strings.HasSuffix(last, "\n") {
		lines[len(lines)-1] = last + "\n"
	}
	return lines
}
