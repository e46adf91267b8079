package bim

import "time"

// DocumentID identifier type
type DocumentID string

// Status enum for ModelDocument
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Category of a model element
type Category string

const (
	CategoryWall   Category = "wall"
	CategorySlab   Category = "slab"
	CategoryBeam   Category = "beam"
	CategoryColumn Category = "column"
	CategoryDoor   Category = "door"
	CategoryWindow Category = "window"
	CategoryStair  Category = "stair"
	CategoryRoof   Category = "roof"
)

// Categories is the fixed extraction order.
var Categories = []Category{
	CategoryWall, CategorySlab, CategoryBeam, CategoryColumn,
	CategoryDoor, CategoryWindow, CategoryStair, CategoryRoof,
}

// Severity of a model comparison (no critical level here)
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Aggregate Root: Document
type Document struct {
	ID            DocumentID `json:"id"`
	ProjectID     string     `json:"project_id"`
	FileURL       string     `json:"file_url"`
	Status        Status     `json:"status"`
	Schema        string     `json:"schema,omitempty"`
	ElementsCount int        `json:"elements_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// MarkReady records a successful ingestion.
func (d *Document) MarkReady(schema string, count int, now time.Time) {
	d.Status = StatusReady
	d.Schema = schema
	d.ElementsCount = count
	d.ErrorMessage = ""
	d.ProcessedAt = &now
}

// MarkError records a failed ingestion.
func (d *Document) MarkError(msg string, now time.Time) {
	d.Status = StatusError
	d.ErrorMessage = msg
	d.ProcessedAt = &now
}

// Element extracted from a model. ExternalID is only unique within its document.
type Element struct {
	ID         string         `json:"id"`
	DocumentID DocumentID     `json:"document_id"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Category   Category       `json:"category"`
	Code       string         `json:"code,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Comparison finding derived from the element set.
type Comparison struct {
	ID          string         `json:"id"`
	DocumentID  DocumentID     `json:"document_id"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	ElementID   string         `json:"element_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
