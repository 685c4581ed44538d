package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ProcessorResult contains the result of LLM response processing
type ProcessorResult struct {
	RepairStats  JsonRepairStats `json:"repair_stats"`
	OriginalJSON string          `json:"-"` // Don't marshal raw JSON
	RepairedJSON string          `json:"-"` // Don't marshal repaired JSON
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
}

// ProcessLLMResponse extracts the JSON part of a raw model response, repairs it if needed and
// decodes it into target
func ProcessLLMResponse(raw string, target interface{}, logger zerolog.Logger) (ProcessorResult, error) {
	result := ProcessorResult{
		OriginalJSON: raw,
		Success:      false,
	}

	logger.Debug().Int("bytes", len(raw)).Msg("Processing LLM response")

	// Extract JSON from response (handle cases where LLM adds explanatory text)
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		result.Error = "no JSON found in LLM response"
		logger.Warn().Str("response", truncateForLog(raw, 200)).Msg("No JSON found in LLM response")
		return result, fmt.Errorf("no JSON found in response")
	}

	repairedJSON, repairStats, err := RepairJSON(jsonStr)
	result.RepairStats = repairStats
	result.RepairedJSON = repairedJSON

	if repairStats.WasRepaired {
		logger.Info().
			Strs("strategies", repairStats.RepairStrategies).
			Int("original_bytes", repairStats.OriginalBytes).
			Int("repaired_bytes", repairStats.RepairedBytes).
			Dur("repair_time", repairStats.RepairTime).
			Msg("JSON repair applied")
	}

	if err != nil {
		result.Error = fmt.Sprintf("JSON repair failed: %v", err)
		logger.Warn().Err(err).
			Str("original", truncateForLog(jsonStr, 500)).
			Msg("JSON repair failed")
		return result, err
	}

	if err := json.Unmarshal([]byte(repairedJSON), target); err != nil {
		result.Error = fmt.Sprintf("JSON parsing failed after repair: %v", err)
		logger.Warn().Err(err).Str("final", truncateForLog(repairedJSON, 500)).Msg("JSON parsing failed after repair")
		return result, err
	}

	result.Success = true
	return result, nil
}

// extractJSON extracts JSON content from mixed text/JSON responses
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// If it starts with { or [, assume it's pure JSON
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Look for JSON blocks marked with ```json or ```
	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if inCodeBlock && len(jsonLines) > 0 {
					break
				}
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}

		if len(jsonLines) > 0 {
			return strings.TrimSpace(strings.Join(jsonLines, "\n"))
		}
	}

	// Look for the first { and try to find matching }
	startIdx := strings.IndexAny(raw, "{[")
	if startIdx == -1 {
		return ""
	}
	if end := matchingClose(raw, startIdx); end != -1 {
		return raw[startIdx : end+1]
	}

	// If we couldn't find a complete JSON structure, return from start to end
	return raw[startIdx:]
}

// matchingClose returns the index of the bracket closing the one at start, skipping brackets
// inside string literals, or -1
func matchingClose(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// truncateForLog truncates text for logging purposes
func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
