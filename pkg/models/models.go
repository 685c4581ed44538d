package models

import (
	"sort"
	"time"
)

// FileStatus is the normalized change status of a file in a pull request
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusRemoved  FileStatus = "removed"
	StatusModified FileStatus = "modified"
)

// NormalizeStatus maps host-reported statuses onto the three statuses the pipeline knows.
// Renames, copies and mode-only changes are all treated as modifications.
func NormalizeStatus(raw string) FileStatus {
	switch raw {
	case "added":
		return StatusAdded
	case "removed", "deleted":
		return StatusRemoved
	default:
		return StatusModified
	}
}

// FetchFailure records why one side of a file could not be fetched
type FetchFailure struct {
	Path    string `json:"path"`
	Side    string `json:"side"` // "base" or "head"
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FileRevisionPair holds both revisions of a single changed file
type FileRevisionPair struct {
	Path         string         `json:"path"`
	PreviousPath string         `json:"previous_path,omitempty"` // Only set for renames
	Status       FileStatus     `json:"status"`
	BaseContent  *string        `json:"base_content"` // nil when the file is added or could not be fetched
	HeadContent  *string        `json:"head_content"` // nil when the file is removed or could not be fetched
	Patch        string         `json:"patch,omitempty"`
	ConflictText string         `json:"conflict_text,omitempty"`
	Regions      int            `json:"regions,omitempty"`
	Binary       bool           `json:"binary,omitempty"`
	FetchErrors  []FetchFailure `json:"fetch_errors,omitempty"`
}

// Diverged reports whether both sides are present and differ.
// This is plain inequality, there is no merge base involved.
func (f *FileRevisionPair) Diverged() bool {
	if f.Status != StatusModified || f.BaseContent == nil || f.HeadContent == nil {
		return false
	}
	return *f.BaseContent != *f.HeadContent
}

// PRSnapshot is a normalized view of a pull request built fresh for each run
type PRSnapshot struct {
	Repo             string             `json:"repo"`
	Number           int                `json:"number"`
	Title            string             `json:"title"`
	Body             string             `json:"body"`
	State            string             `json:"state"`
	Author           string             `json:"author"`
	BaseRef          string             `json:"base_ref"`
	HeadRef          string             `json:"head_ref"`
	BaseSHA          string             `json:"base_sha"`
	HeadSHA          string             `json:"head_sha"`
	Files            []FileRevisionPair `json:"files"`
	ConflictingPaths []string           `json:"conflicting_paths"`
	FetchFailures    []FetchFailure     `json:"fetch_failures,omitempty"`
}

// File returns the revision pair for path, or nil
func (s *PRSnapshot) File(path string) *FileRevisionPair {
	for i := range s.Files {
		if s.Files[i].Path == path {
			return &s.Files[i]
		}
	}
	return nil
}

// ConflictSet returns ConflictingPaths as a set
func (s *PRSnapshot) ConflictSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.ConflictingPaths))
	for _, p := range s.ConflictingPaths {
		set[p] = struct{}{}
	}
	return set
}

// ResolutionEdit is a full-file replacement proposed by the model
type ResolutionEdit struct {
	Path    string `json:"path_to_file"`
	Content string `json:"content"`
}

// Tree element modes and types as used by git
const (
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeDir        = "040000"
	ModeSubmodule  = "160000"

	TypeBlob   = "blob"
	TypeTree   = "tree"
	TypeCommit = "commit"
)

// TreeElement is a single path entry in a tree. A nil SHA in a tree creation request deletes the path.
type TreeElement struct {
	Path string
	Mode string
	Type string
	SHA  *string
}

// Signature is a commit author or committer
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitInfo describes an existing commit in the object store
type CommitInfo struct {
	SHA     string
	Message string
	TreeSHA string
	Parents []string
	Author  *Signature
}

// SortedPaths returns a sorted copy of paths
func SortedPaths(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}
