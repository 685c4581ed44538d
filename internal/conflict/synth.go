// Package conflict turns two flat revisions of a file into git-style conflict marker text.
//
// There is no merge base: the base revision plays "ours" (HEAD) and the head revision of the
// pull request plays "theirs" (PR). Every run of non-matching lines between two matching
// lines becomes one conflict region.
package conflict

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Marker lines
const (
	MarkerOurs   = "<<<<<<< HEAD"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>> PR"
)

// Origin tells which revision a line came from
type Origin int

const (
	Common Origin = iota
	Base
	Head
)

func (o Origin) String() string {
	switch o {
	case Base:
		return "BASE"
	case Head:
		return "HEAD"
	default:
		return "COMMON"
	}
}

// Block is one line of the merged sequence
type Block struct {
	Origin Origin
	Line   string
}

// Region is a maximal run of non-common blocks
type Region struct {
	Start  int // index of the first block of the region
	Ours   []string
	Theirs []string
}

// Synthesize aligns base and head and returns the merged block sequence.
// Within a region all base lines precede all head lines.
func Synthesize(base, head []string) []Block {
	// autojunk is off so that frequent lines ("}", blank lines) still anchor the alignment
	m := difflib.NewMatcherWithJunk(base, head, false, nil)

	blocks := make([]Block, 0, len(base)+len(head))
	var ours, theirs []string
	flush := func() {
		for _, l := range ours {
			blocks = append(blocks, Block{Origin: Base, Line: l})
		}
		for _, l := range theirs {
			blocks = append(blocks, Block{Origin: Head, Line: l})
		}
		ours, theirs = nil, nil
	}

	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			flush()
			for _, l := range base[op.I1:op.I2] {
				blocks = append(blocks, Block{Origin: Common, Line: l})
			}
		case 'd':
			ours = append(ours, base[op.I1:op.I2]...)
		case 'i':
			theirs = append(theirs, head[op.J1:op.J2]...)
		case 'r':
			ours = append(ours, base[op.I1:op.I2]...)
			theirs = append(theirs, head[op.J1:op.J2]...)
		}
	}
	flush()
	return blocks
}

// Regions extracts the conflict regions of a block sequence
func Regions(blocks []Block) []Region {
	var regions []Region
	var cur *Region
	for i, b := range blocks {
		switch b.Origin {
		case Common:
			cur = nil
			continue
		case Base:
			// a base line after head lines starts a new region
			if cur != nil && len(cur.Theirs) > 0 {
				cur = nil
			}
		}
		if cur == nil {
			regions = append(regions, Region{Start: i})
			cur = &regions[len(regions)-1]
		}
		if b.Origin == Base {
			cur.Ours = append(cur.Ours, b.Line)
		} else {
			cur.Theirs = append(cur.Theirs, b.Line)
		}
	}
	return regions
}

// Render serializes blocks to marker lines. Every region is closed, including one that is
// still open at the end of the input.
func Render(blocks []Block) []string {
	out := make([]string, 0, len(blocks)+3)
	open, inTheirs := false, false

	closeRegion := func() {
		if !open {
			return
		}
		if !inTheirs {
			out = append(out, MarkerSep)
		}
		out = append(out, MarkerTheirs)
		open, inTheirs = false, false
	}

	for _, b := range blocks {
		switch b.Origin {
		case Common:
			closeRegion()
		case Base:
			if inTheirs {
				closeRegion()
			}
			if !open {
				out = append(out, MarkerOurs)
				open = true
			}
		case Head:
			if !open {
				out = append(out, MarkerOurs)
				open = true
			}
			if !inTheirs {
				out = append(out, MarkerSep)
				inTheirs = true
			}
		}
		out = append(out, b.Line)
	}
	closeRegion()
	return out
}

// Markers is the text-level entry point. It returns the conflict-marked text and the number of
// regions. The result ends with a newline when the head revision does.
func Markers(baseText, headText string) (string, int) {
	blocks := Synthesize(SplitLines(baseText), SplitLines(headText))
	text := strings.Join(Render(blocks), "\n")
	if strings.HasSuffix(headText, "\n") && text != "" {
		text += "\n"
	}
	return text, len(Regions(blocks))
}

// SplitLines splits text on "\n" without producing a trailing empty line
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// ContainsMarkers reports whether text still carries a complete set of conflict markers
func ContainsMarkers(text string) bool {
	var ours, sep bool
	for _, l := range SplitLines(text) {
		switch {
		case strings.HasPrefix(l, "<<<<<<< "):
			ours, sep = true, false
		case l == MarkerSep && ours:
			sep = true
		case strings.HasPrefix(l, ">>>>>>> ") && ours && sep:
			return true
		}
	}
	return false
}
