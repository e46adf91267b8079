package evidence

import (
	"context"
	"time"
)

// Repository port for evidence items and their owned issues.
type Repository interface {
	Create(ctx context.Context, e *Evidence) error
	// Get returns (nil, nil) when absent.
	Get(ctx context.Context, id ID) (*Evidence, error)
	// UpdateStatus persists status, processing_started_at and analyzed_at.
	UpdateStatus(ctx context.Context, e *Evidence) error
	// ReplaceIssues drops the item's existing issues before inserting.
	ReplaceIssues(ctx context.Context, id ID, issues []Issue) error
	ListIssues(ctx context.Context, id ID) ([]Issue, error)
	// ListProcessingSince returns items that entered processing before the cutoff.
	ListProcessingSince(ctx context.Context, cutoff time.Time) ([]*Evidence, error)
	Delete(ctx context.Context, id ID) error
}
