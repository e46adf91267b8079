package analysis

import (
	"fmt"
	"strings"
	"time"
)

// RunID identifier type
type RunID string

// Status enum shared by runs and their sub-results
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Severity enum for detected issues
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity accepts the lowercase values plus the usual "info" alias.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "informational":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
}

// Kind distinguishes the BIM and image variants of AnalysisResult.
type Kind string

const (
	KindBIM   Kind = "bim"
	KindImage Kind = "image"
)

// DetectedIssue value object
type DetectedIssue struct {
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Confidence   float64  `json:"confidence"`
	LocationHint string   `json:"location_hint,omitempty"`
}

// Validate checks the invariants a provider payload must satisfy.
func (i DetectedIssue) Validate() error {
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: issue description is empty", ErrInvalidInput)
	}
	if _, err := ParseSeverity(string(i.Severity)); err != nil {
		return err
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidInput, i.Confidence)
	}
	return nil
}

// Result is the shape shared by the BIM and image analyses.
type Result struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	SourceURI   string          `json:"source_uri"`
	Summary     string          `json:"summary,omitempty"`
	Notes       string          `json:"notes,omitempty"` // compliance notes (bim) or observed conditions (image)
	RawOutput   string          `json:"raw_output,omitempty"`
	Issues      []DetectedIssue `json:"issues"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Comparison between the BIM and image summaries.
type Comparison struct {
	ID                   string    `json:"id"`
	SimilarityScore      float64   `json:"similarity_score"`
	CompletionPercentage float64   `json:"completion_percentage"`
	Summary              string    `json:"summary,omitempty"`
	Mismatches           []string  `json:"mismatches"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewComparison clamps both scores into [0,1]; out-of-range input is never rejected.
func NewComparison(id string, similarity, completion float64, summary string, mismatches []string, now time.Time) *Comparison {
	return &Comparison{
		ID:                   id,
		SimilarityScore:      Clamp01(similarity),
		CompletionPercentage: Clamp01(completion),
		Summary:              summary,
		Mismatches:           dedupe(mismatches),
		CreatedAt:            now,
	}
}

// Clamp01 bounds v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Aggregate Root: Run
type Run struct {
	ID             RunID       `json:"id"`
	ProjectName    string      `json:"project_name"`
	RequestedBy    string      `json:"requested_by,omitempty"`
	BimSourceURI   string      `json:"bim_source_uri"`
	ImageSourceURI string      `json:"image_source_uri"`
	Status         Status      `json:"status"`
	Notes          string      `json:"notes,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Bim            *Result     `json:"bim_analysis,omitempty"`
	Image          *Result     `json:"image_analysis,omitempty"`
	Comparison     *Comparison `json:"comparison_result,omitempty"`
}

// NewRun builds a pending run.
func NewRun(id RunID, projectName, requestedBy, bimURI, imageURI string, now time.Time) *Run {
	return &Run{
		ID:             id,
		ProjectName:    projectName,
		RequestedBy:    requestedBy,
		BimSourceURI:   bimURI,
		ImageSourceURI: imageURI,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MarkRunning moves a non-completed run into running.
func (r *Run) MarkRunning(now time.Time) error {
	if r.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	r.Status = StatusRunning
	r.Notes = ""
	r.UpdatedAt = now
	return nil
}

// MarkCompleted attaches all three sub-results at once.
func (r *Run) MarkCompleted(bim, image *Result, cmp *Comparison, now time.Time) error {
	if r.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	if bim == nil || image == nil || cmp == nil {
		return fmt.Errorf("%w: completed run needs bim, image and comparison results", ErrInvalidInput)
	}
	r.Bim, r.Image, r.Comparison = bim, image, cmp
	r.Status = StatusCompleted
	r.Notes = ""
	r.UpdatedAt = now
	return nil
}

// MarkFailed records the failure reason. Sub-results are never attached to a failed run.
func (r *Run) MarkFailed(reason string, now time.Time) {
	if strings.TrimSpace(reason) == "" {
		reason = "analysis failed"
	}
	r.Status = StatusFailed
	r.Notes = reason
	r.Bim, r.Image, r.Comparison = nil, nil, nil
	r.UpdatedAt = now
}

// Retryable reports whether the run may be executed again.
func (r *Run) Retryable() bool { return r.Status != StatusCompleted }
