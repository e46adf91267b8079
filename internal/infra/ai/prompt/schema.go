package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	domai "github.com/bryanwahyu/metro-bim/internal/domain/ai"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
)

// IssuePayload mirrors one entry of the "issues" array.
type IssuePayload struct {
	Description  string   `json:"description"`
	Severity     string   `json:"severity"`
	Confidence   *float64 `json:"confidence"`
	LocationHint *string  `json:"location_hint"`
}

// AnalysisPayload is the BIM/image schema. Only one of the domain notes is expected.
type AnalysisPayload struct {
	Summary            *string        `json:"summary"`
	Issues             []IssuePayload `json:"issues"`
	RawOutput          *string        `json:"raw_output"`
	ComplianceNotes    *string        `json:"compliance_notes"`
	ObservedConditions *string        `json:"observed_conditions"`
}

// ComparisonPayload is the comparison schema.
type ComparisonPayload struct {
	Summary              *string  `json:"summary"`
	SimilarityScore      *float64 `json:"similarity_score"`
	CompletionPercentage *float64 `json:"completion_percentage"`
	Mismatches           []string `json:"mismatches"`
}

// ParseAnalysis validates text against the analysis schema and returns normalized issues.
func ParseAnalysis(text string) (AnalysisPayload, []analysis.DetectedIssue, error) {
	var p AnalysisPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &p); err != nil {
		return p, nil, fmt.Errorf("%w: %v", domai.ErrMalformedResponse, err)
	}
	if p.Summary == nil {
		return p, nil, fmt.Errorf("%w: missing summary", domai.ErrMalformedResponse)
	}
	issues := make([]analysis.DetectedIssue, 0, len(p.Issues))
	for i, ip := range p.Issues {
		if ip.Confidence == nil {
			return p, nil, fmt.Errorf("%w: issue %d has no confidence", domai.ErrMalformedResponse, i)
		}
		sev, err := analysis.ParseSeverity(ip.Severity)
		if err != nil {
			return p, nil, fmt.Errorf("%w: issue %d: %v", domai.ErrMalformedResponse, i, err)
		}
		issue := analysis.DetectedIssue{
			Description: strings.TrimSpace(ip.Description),
			Severity:    sev,
			Confidence:  *ip.Confidence,
		}
		if ip.LocationHint != nil {
			issue.LocationHint = *ip.LocationHint
		}
		if err := issue.Validate(); err != nil {
			return p, nil, fmt.Errorf("%w: issue %d: %v", domai.ErrMalformedResponse, i, err)
		}
		issues = append(issues, issue)
	}
	return p, issues, nil
}

// ParseComparison validates text against the comparison schema. Scores are clamped later.
func ParseComparison(text string) (ComparisonPayload, error) {
	var p ComparisonPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &p); err != nil {
		return p, fmt.Errorf("%w: %v", domai.ErrMalformedResponse, err)
	}
	if p.Summary == nil || p.SimilarityScore == nil || p.CompletionPercentage == nil {
		return p, fmt.Errorf("%w: comparison needs summary, similarity_score and completion_percentage", domai.ErrMalformedResponse)
	}
	return p, nil
}

// extractJSON strips a surrounding markdown code fence, if any.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
