// Package secrets checks model-proposed file contents for credentials before they are committed.
package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"

	"github.com/prmerge/pkg/models"
)

// Finding is a secret found in a proposed edit that is not present in either revision of the file
type Finding struct {
	Path        string
	RuleID      string
	Description string
	Line        int
}

// Scanner runs the gitleaks default rule set over edits
type Scanner struct {
	// Block turns new findings into an ErrUnsafeContent error
	Block bool

	mu       sync.Mutex
	detector *detect.Detector
}

// NewScanner loads the default gitleaks configuration
func NewScanner(block bool) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load secret detection rules: %w", err)
	}
	return &Scanner{Block: block, detector: detector}, nil
}

// Check scans every edit. Secrets that already exist in the base or head revision of the file
// are ignored. New findings are logged, and returned as ErrUnsafeContent when Block is set.
func (s *Scanner) Check(edits []models.ResolutionEdit, snap *models.PRSnapshot, logger zerolog.Logger) ([]Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var findings []Finding
	for _, edit := range edits {
		var known []string
		if snap != nil {
			if f := snap.File(edit.Path); f != nil {
				if f.BaseContent != nil {
					known = append(known, *f.BaseContent)
				}
				if f.HeadContent != nil {
					known = append(known, *f.HeadContent)
				}
			}
		}

		for _, r := range s.detector.DetectString(edit.Content) {
			if preexisting(r, known) {
				continue
			}
			finding := Finding{
				Path:        edit.Path,
				RuleID:      r.RuleID,
				Description: r.Description,
				Line:        r.StartLine + 1,
			}
			findings = append(findings, finding)
			logger.Warn().
				Str("path", finding.Path).
				Str("rule", finding.RuleID).
				Int("line", finding.Line).
				Msg("Proposed content introduces a secret")
		}
	}

	if len(findings) > 0 && s.Block {
		return findings, models.Newf(models.ErrUnsafeContent, "secret scan",
			"%d new secret(s) in proposed edits, first in %s (%s)", len(findings), findings[0].Path, findings[0].RuleID)
	}
	return findings, nil
}

func preexisting(r report.Finding, known []string) bool {
	if r.Secret == "" {
		return false
	}
	for _, k := range known {
		if strings.Contains(k, r.Secret) {
			return true
		}
	}
	return false
}
