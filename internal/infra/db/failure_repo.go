package db

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/bryanwahyu/metro-bim/internal/domain/failures"
)

type failureRow struct {
	ID          int64     `db:"id"`
	Unit        string    `db:"unit"`
	EntityID    string    `db:"entity_id"`
	Phase       string    `db:"phase"`
	Message     string    `db:"message"`
	DetailsJSON string    `db:"details_json"`
	CreatedAt   time.Time `db:"created_at"`
}

// FailureRepository implements failures.Repository.
type FailureRepository struct {
	db *sqlx.DB
}

func NewFailureRepository(db *sqlx.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) Save(ctx context.Context, e *domain.Entry) error {
	const q = `
INSERT INTO failure_entries
  (unit, entity_id, phase, message, details_json, created_at)
VALUES (?,?,?,?,?,?)`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		stringOrDash(string(e.Unit)), stringOrDash(e.EntityID), stringOrDash(e.Phase),
		msg, jsonObject(e.DetailsJSON), utc(created))
	return err
}

func (r *FailureRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []failureRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, unit, entity_id, phase, message, details_json, created_at
FROM failure_entries
WHERE entity_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`), entityID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.Entry{
			ID:          row.ID,
			Unit:        domain.Unit(row.Unit),
			EntityID:    row.EntityID,
			Phase:       row.Phase,
			Message:     row.Message,
			DetailsJSON: row.DetailsJSON,
			CreatedAt:   utc(row.CreatedAt),
		})
	}
	return out, nil
}
