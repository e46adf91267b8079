package prompt

import (
	"encoding/json"
	"fmt"
)

// FallbackConfidence is the fixed confidence of every synthetic issue.
const FallbackConfidence = 0.3

// FallbackLabel prefixes every synthetic summary.
const FallbackLabel = "[fallback]"

// fallbackPayload satisfies the analysis and the comparison schema at once,
// so one canned answer serves every operation.
type fallbackPayload struct {
	Summary              string         `json:"summary"`
	Issues               []IssuePayload `json:"issues"`
	ComplianceNotes      string         `json:"compliance_notes"`
	ObservedConditions   string         `json:"observed_conditions"`
	SimilarityScore      float64        `json:"similarity_score"`
	CompletionPercentage float64        `json:"completion_percentage"`
	Mismatches           []string       `json:"mismatches"`
}

// FallbackPayload returns the synthetic JSON used when no live provider answers.
func FallbackPayload() (string, error) {
	confidence := FallbackConfidence
	location := "not determined"
	sample := fallbackPayload{
		Summary: FallbackLabel + " Synthetic analysis generated without a live provider. Review manually before relying on it.",
		Issues: []IssuePayload{{
			Description:  "Automatic analysis unavailable; manual inspection required.",
			Severity:     "medium",
			Confidence:   &confidence,
			LocationHint: &location,
		}},
		ComplianceNotes:      "Compliance was not evaluated.",
		ObservedConditions:   "Conditions were not evaluated.",
		SimilarityScore:      0.5,
		CompletionPercentage: 0.5,
		Mismatches:           []string{"Comparison not evaluated by a live provider."},
	}
	b, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fallback payload: %w", err)
	}
	return string(b), nil
}
