package failures

import "time"

// Unit names the kind of background work that failed.
type Unit string

const (
	UnitAnalysis  Unit = "analysis"
	UnitIngestion Unit = "ingestion"
	UnitEvidence  Unit = "evidence"
)

// Entry represents a persisted failure of one background unit of work
type Entry struct {
	ID          int64     `json:"id"`
	Unit        Unit      `json:"unit"`
	EntityID    string    `json:"entity_id"`
	Phase       string    `json:"phase,omitempty"` // pipeline stage, or panic / submit
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
