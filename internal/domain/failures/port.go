package failures

import "context"

// Repository defines persistence for failure entries
type Repository interface {
	Save(ctx context.Context, e *Entry) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Entry, error)
}
