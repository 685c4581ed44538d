// Package capture records the inputs and outputs of a run so it can be replayed later, for
// example by passing the recorded model answer to update-pr.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Recorder writes numbered files into one session directory. A nil Recorder records nothing.
type Recorder struct {
	dir    string
	seq    atomic.Uint64
	logger zerolog.Logger
}

// New creates a recorder writing below root/<timestamp>-<runID>. An empty root returns nil.
func New(root, runID string, logger zerolog.Logger) (*Recorder, error) {
	if root == "" {
		return nil, nil
	}
	if len(runID) > 8 {
		runID = runID[:8]
	}
	dir := filepath.Join(root, time.Now().Format("20060102-150405")+"-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory %s: %w", dir, err)
	}
	return &Recorder{dir: dir, logger: logger}, nil
}

// Dir returns the session directory
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// WriteJSON stores payload as indented JSON. Failures are logged but otherwise ignored.
func (r *Recorder) WriteJSON(category string, payload interface{}) string {
	if r == nil {
		return ""
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		r.logger.Warn().Err(err).Str("category", category).Msg("capture: failed to marshal payload")
		return ""
	}
	return r.write(category, "json", data)
}

// WriteBlob stores data as is
func (r *Recorder) WriteBlob(category, ext string, data []byte) string {
	if r == nil {
		return ""
	}
	return r.write(category, ext, data)
}

func (r *Recorder) write(category, ext string, data []byte) string {
	seq := r.seq.Add(1)
	path := filepath.Join(r.dir, fmt.Sprintf("%04d-%s.%s", seq, category, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("capture: failed to write file")
		return ""
	}
	r.logger.Debug().Str("path", path).Msg("capture: wrote file")
	return path
}
