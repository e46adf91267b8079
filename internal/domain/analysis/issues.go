package analysis

import (
	"encoding/json"
	"fmt"
)

// EncodeIssues renders issues into the JSON column representation.
// encoding/json writes the shortest float form that parses back to the same bits.
func EncodeIssues(issues []DetectedIssue) (string, error) {
	if issues == nil {
		issues = []DetectedIssue{}
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return "", fmt.Errorf("encode issues: %w", err)
	}
	return string(b), nil
}

// DecodeIssues parses the JSON column representation. Empty input yields no issues.
func DecodeIssues(raw string) ([]DetectedIssue, error) {
	if raw == "" {
		return []DetectedIssue{}, nil
	}
	var out []DetectedIssue
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}
	if out == nil {
		out = []DetectedIssue{}
	}
	return out, nil
}

// EncodeStrings and DecodeStrings store mismatch sets.
func EncodeStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("encode strings: %w", err)
	}
	return string(b), nil
}

func DecodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode strings: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
