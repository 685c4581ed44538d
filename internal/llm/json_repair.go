package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// ErrTruncatedJSON is returned when the text ends inside a string or an open object or array
var ErrTruncatedJSON = errors.New("JSON is truncated")

// JsonRepairStats tracks statistics about JSON repair operations
type JsonRepairStats struct {
	OriginalBytes    int           `json:"original_bytes"`
	RepairedBytes    int           `json:"repaired_bytes"`
	RepairTime       time.Duration `json:"repair_time"`
	RepairStrategies []string      `json:"repair_strategies"`
	WasRepaired      bool          `json:"was_repaired"`
}

// RepairJSON returns raw unchanged when it already parses. Otherwise the jsonrepair library may
// fix damage between values, such as trailing or missing commas. Text that is cut off is
// rejected with ErrTruncatedJSON, and a repair is rejected when it changes any string.
func RepairJSON(raw string) (repaired string, stats JsonRepairStats, err error) {
	startTime := time.Now()
	stats.OriginalBytes = len(raw)
	defer func() {
		stats.RepairedBytes = len(repaired)
		stats.RepairTime = time.Since(startTime)
	}()

	if json.Valid([]byte(raw)) {
		return raw, stats, nil
	}

	literals, err := scanStrings(raw)
	if err != nil {
		return raw, stats, err
	}

	stats.WasRepaired = true
	stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")

	repaired, err = jsonrepair.JSONRepair(raw)
	if err != nil {
		return raw, stats, fmt.Errorf("JSON repair failed: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair produced invalid JSON")
	}

	got, err := decodedStrings(repaired)
	if err != nil {
		return repaired, stats, err
	}
	if !slices.Equal(literals, got) {
		return raw, stats, fmt.Errorf("JSON repair would change string values")
	}
	return repaired, stats, nil
}

// scanStrings walks raw the way a JSON tokenizer would and returns every double-quoted string,
// decoded. It fails when raw ends inside a string, leaves a container open or closes one with
// the wrong bracket.
func scanStrings(raw string) ([]string, error) {
	var out []string
	var stack []byte
	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; c {
		case '"':
			end := closingQuote(raw, i)
			if end == -1 {
				return nil, fmt.Errorf("%w: unterminated string", ErrTruncatedJSON)
			}
			var s string
			if err := json.Unmarshal([]byte(raw[i:end+1]), &s); err != nil {
				return nil, fmt.Errorf("invalid string literal at offset %d: %w", i, err)
			}
			out = append(out, s)
			i = end
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			open := byte('{')
			if c == ']' {
				open = '['
			}
			if len(stack) == 0 || stack[len(stack)-1] != open {
				return nil, fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: %d unclosed containers", ErrTruncatedJSON, len(stack))
	}
	return out, nil
}

// closingQuote returns the index of the quote ending the string that starts at start, or -1
func closingQuote(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// decodedStrings lists every string token, keys included, in document order
func decodedStrings(data string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	var out []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if s, ok := tok.(string); ok {
			out = append(out, s)
		}
	}
}
