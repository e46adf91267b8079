package evidence

import (
	"fmt"
	"time"
)

// ID tipe untuk Evidence
type ID string

// Status enum; evidence has its own vocabulary, distinct from analysis runs.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// DefaultStaleAfter is how long an item may sit in processing before it can be reset.
const DefaultStaleAfter = 5 * time.Minute

// DefaultIssueType tags every issue produced by photo analysis.
const DefaultIssueType = "structural"

// Evidence is one uploaded site photo.
type Evidence struct {
	ID                  ID         `json:"id"`
	ProjectID           string     `json:"project_id"`
	FilePath            string     `json:"file_path"`
	FileURL             string     `json:"file_url,omitempty"`
	Description         string     `json:"description,omitempty"`
	Status              Status     `json:"status"`
	UploadedAt          time.Time  `json:"uploaded_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	AnalyzedAt          *time.Time `json:"analyzed_at,omitempty"`
}

// Issue persisted for an evidence item.
type Issue struct {
	ID          string    `json:"id"`
	EvidenceID  ID        `json:"evidence_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Severity    string    `json:"severity"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StartProcessing moves pending → processing.
func (e *Evidence) StartProcessing(now time.Time) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.Status, StatusProcessing)
	}
	e.Status = StatusProcessing
	e.ProcessingStartedAt = &now
	return nil
}

// Complete moves processing → completed.
func (e *Evidence) Complete(now time.Time) error {
	if e.Status != StatusProcessing {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, e.Status, StatusCompleted)
	}
	e.Status = StatusCompleted
	e.AnalyzedAt = &now
	e.ProcessingStartedAt = nil
	return nil
}

// Fail is allowed from any state.
func (e *Evidence) Fail() {
	e.Status = StatusError
	e.ProcessingStartedAt = nil
}

// Stale reports whether a processing item has outlived staleAfter.
func (e *Evidence) Stale(now time.Time, staleAfter time.Duration) bool {
	if e.Status != StatusProcessing {
		return false
	}
	if e.ProcessingStartedAt == nil {
		return true
	}
	return now.Sub(*e.ProcessingStartedAt) > staleAfter
}

// Requeue resets the item to pending. A processing item is only reset once stale.
func (e *Evidence) Requeue(now time.Time, staleAfter time.Duration) error {
	if e.Status == StatusProcessing && !e.Stale(now, staleAfter) {
		return ErrStillProcessing
	}
	e.Status = StatusPending
	e.ProcessingStartedAt = nil
	return nil
}
