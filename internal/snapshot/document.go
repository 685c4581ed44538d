package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/prmerge/pkg/models"
)

// FileEntry is one {path, content} listing of the snapshot document
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Document is the serialized form of a snapshot handed to the model and printed by fetch-pr.
// Conflicting entries carry conflict-marked text, added entries carry the patch.
type Document struct {
	ConflictingFiles []FileEntry `json:"conflicting_files"`
	MasterFiles      []FileEntry `json:"master_files"`
	PRFiles          []FileEntry `json:"pr_files"`
	AddedFiles       []FileEntry `json:"added_files"`
	DeletedFiles     []FileEntry `json:"deleted_files"`
}

// NewDocument lists the snapshot's files. Sides that could not be fetched and binary files are
// left out of the content listings.
func NewDocument(snap *models.PRSnapshot) *Document {
	doc := &Document{
		ConflictingFiles: []FileEntry{},
		MasterFiles:      []FileEntry{},
		PRFiles:          []FileEntry{},
		AddedFiles:       []FileEntry{},
		DeletedFiles:     []FileEntry{},
	}

	for _, f := range snap.Files {
		if f.Binary {
			continue
		}
		switch f.Status {
		case models.StatusModified:
			if f.ConflictText != "" {
				doc.ConflictingFiles = append(doc.ConflictingFiles, FileEntry{Path: f.Path, Content: f.ConflictText})
			}
			if f.BaseContent != nil {
				doc.MasterFiles = append(doc.MasterFiles, FileEntry{Path: f.Path, Content: *f.BaseContent})
			}
			if f.HeadContent != nil {
				doc.PRFiles = append(doc.PRFiles, FileEntry{Path: f.Path, Content: *f.HeadContent})
			}
		case models.StatusAdded:
			doc.AddedFiles = append(doc.AddedFiles, FileEntry{Path: f.Path, Content: f.Patch})
			if f.HeadContent != nil {
				doc.PRFiles = append(doc.PRFiles, FileEntry{Path: f.Path, Content: *f.HeadContent})
			}
		case models.StatusRemoved:
			if f.BaseContent != nil {
				doc.DeletedFiles = append(doc.DeletedFiles, FileEntry{Path: f.Path, Content: *f.BaseContent})
				doc.MasterFiles = append(doc.MasterFiles, FileEntry{Path: f.Path, Content: *f.BaseContent})
			}
		}
	}
	return doc
}

// ParseDocument decodes a document produced by JSON
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot document: %w", err)
	}
	return &doc, nil
}

// JSON renders the document indented
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ConflictingPaths returns the paths listed as conflicting, in document order
func (d *Document) ConflictingPaths() []string {
	paths := make([]string, 0, len(d.ConflictingFiles))
	for _, f := range d.ConflictingFiles {
		paths = append(paths, f.Path)
	}
	return paths
}
