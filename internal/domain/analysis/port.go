package analysis

import "context"

// Repository port for AnalysisRun persistence
type Repository interface {
	Create(ctx context.Context, r *Run) (*Run, error)
	// Update fails with ErrNotFound when the run is gone.
	Update(ctx context.Context, r *Run) (*Run, error)
	// GetByID returns (nil, nil) when absent.
	GetByID(ctx context.Context, id RunID) (*Run, error)
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
}

// Analyzer is the provider adapter consumed by the orchestrator and the evidence pipeline.
type Analyzer interface {
	AnalyzeBIM(ctx context.Context, sourceURI, projectContext string) (*Result, error)
	AnalyzeImage(ctx context.Context, sourceURI, projectContext string) (*Result, error)
	Compare(ctx context.Context, projectName string, bim, image *Result) (*Comparison, error)
}
