package llm

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	validJSON := `{"files": [{"path_to_file": "a.go", "content": "package a\n"}]}`

	repaired, stats, err := RepairJSON(validJSON)

	if err != nil {
		t.Errorf("Expected no error for valid JSON, got: %v", err)
	}

	if stats.WasRepaired {
		t.Error("Expected WasRepaired to be false for valid JSON")
	}

	if repaired != validJSON {
		t.Error("Expected repaired JSON to be identical to original for valid JSON")
	}

	if stats.OriginalBytes != len(validJSON) || stats.RepairedBytes != len(validJSON) {
		t.Error("Expected byte counts to match original")
	}
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	malformedJSON := `{"files": [{"path_to_file": "a.go", "content": "x",},]}`

	repaired, stats, err := RepairJSON(malformedJSON)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !stats.WasRepaired {
		t.Error("Expected WasRepaired to be true")
	}
	if !json.Valid([]byte(repaired)) {
		t.Errorf("Repaired JSON is not valid: %s", repaired)
	}
}

func TestRepairJSON_RejectsTruncation(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "open containers", input: `{"files": [{"path_to_file": "a.go", "content": "x"}`},
		{name: "inside content", input: `{"files": [{"path_to_file": "a.txt", "content": "line one\nline tw`},
		{name: "second entry cut", input: `{"files": [{"path_to_file": "a.txt", "content": "whole"}, {"path_to_file": "b.txt", "content": "half of b`},
		{name: "inside escape", input: `{"files": [{"path_to_file": "main.go", "content": "package main\n\nfunc main() {\n\tprintln(1)\`},
	}
	for _, tc := range cases {
		repaired, _, err := RepairJSON(tc.input)
		if err == nil {
			t.Errorf("%s: expected an error, got repaired JSON %s", tc.name, repaired)
			continue
		}
		if !errors.Is(err, ErrTruncatedJSON) {
			t.Errorf("%s: expected ErrTruncatedJSON, got: %v", tc.name, err)
		}
	}
}

func TestRepairJSON_RejectsChangedStrings(t *testing.T) {
	// single quotes would become a new string value
	_, _, err := RepairJSON(`{"files": [{"path_to_file": 'a.go', "content": "x"}]}`)
	if err == nil {
		t.Error("Expected an error when repair rewrites string values")
	}
}

func TestRepairJSON_PreservesStringContents(t *testing.T) {
	// apostrophes, braces and comment-like text inside values must survive repair
	content := `it's {not} // a comment`
	malformedJSON := `{"files": [{"path_to_file": "a.go", "content": "` + content + `"},]}`

	repaired, _, err := RepairJSON(malformedJSON)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(repaired, content) {
		t.Errorf("String content was altered: %s", repaired)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: `{"a": 1}`, want: `{"a": 1}`},
		{input: "Here you go:\n```json\n{\"a\": 1}\n```\nDone", want: `{"a": 1}`},
		{input: `Answer: {"a": "}"} trailing`, want: `{"a": "}"}`},
		{input: `no json here`, want: ``},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.input); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
