package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/bryanwahyu/metro-bim/internal/domain/evidence"
)

type evidenceRow struct {
	ID                  string     `db:"id"`
	ProjectID           string     `db:"project_id"`
	FilePath            string     `db:"file_path"`
	FileURL             string     `db:"file_url"`
	Description         string     `db:"description"`
	Status              string     `db:"status"`
	UploadedAt          time.Time  `db:"uploaded_at"`
	ProcessingStartedAt *time.Time `db:"processing_started_at"`
	AnalyzedAt          *time.Time `db:"analyzed_at"`
}

type issueRow struct {
	ID          string    `db:"id"`
	EvidenceID  string    `db:"evidence_id"`
	Type        string    `db:"issue_type"`
	Description string    `db:"description"`
	Confidence  float64   `db:"confidence"`
	Severity    string    `db:"severity"`
	Location    string    `db:"location"`
	CreatedAt   time.Time `db:"created_at"`
}

const evidenceColumns = `id, project_id, file_path, file_url, description, status, uploaded_at, processing_started_at, analyzed_at`

// EvidenceRepository implements evidence.Repository.
type EvidenceRepository struct {
	db *sqlx.DB
}

func NewEvidenceRepository(db *sqlx.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

func (r *EvidenceRepository) Create(ctx context.Context, e *domain.Evidence) error {
	const q = `
INSERT INTO evidence (` + evidenceColumns + `)
VALUES (:id, :project_id, :file_path, :file_url, :description, :status, :uploaded_at, :processing_started_at, :analyzed_at)`
	if _, err := r.db.NamedExecContext(ctx, q, toEvidenceRow(e)); err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (r *EvidenceRepository) Get(ctx context.Context, id domain.ID) (*domain.Evidence, error) {
	var row evidenceRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+evidenceColumns+` FROM evidence WHERE id=?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence %s: %w", id, err)
	}
	return fromEvidenceRow(row), nil
}

func (r *EvidenceRepository) UpdateStatus(ctx context.Context, e *domain.Evidence) error {
	const q = `
UPDATE evidence
SET status=:status, processing_started_at=:processing_started_at, analyzed_at=:analyzed_at
WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, q, toEvidenceRow(e))
	if err != nil {
		return fmt.Errorf("update evidence status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evidence status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, e.ID)
	}
	return nil
}

func (r *EvidenceRepository) ReplaceIssues(ctx context.Context, id domain.ID, issues []domain.Issue) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM evidence_issues WHERE evidence_id=?`), string(id)); err != nil {
			return fmt.Errorf("clear issues: %w", err)
		}
		const q = `
INSERT INTO evidence_issues (id, evidence_id, issue_type, description, confidence, severity, location, created_at)
VALUES (:id, :evidence_id, :issue_type, :description, :confidence, :severity, :location, :created_at)`
		for _, is := range issues {
			row := issueRow{
				ID:          is.ID,
				EvidenceID:  string(id),
				Type:        is.Type,
				Description: is.Description,
				Confidence:  is.Confidence,
				Severity:    is.Severity,
				Location:    is.Location,
				CreatedAt:   utc(is.CreatedAt),
			}
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("insert issue: %w", err)
			}
		}
		return nil
	})
}

func (r *EvidenceRepository) ListIssues(ctx context.Context, id domain.ID) ([]domain.Issue, error) {
	var rows []issueRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, evidence_id, issue_type, description, confidence, severity, location, created_at
FROM evidence_issues WHERE evidence_id=? ORDER BY created_at, id`), string(id))
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	out := make([]domain.Issue, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Issue{
			ID:          row.ID,
			EvidenceID:  domain.ID(row.EvidenceID),
			Type:        row.Type,
			Description: row.Description,
			Confidence:  row.Confidence,
			Severity:    row.Severity,
			Location:    row.Location,
			CreatedAt:   utc(row.CreatedAt),
		})
	}
	return out, nil
}

func (r *EvidenceRepository) ListProcessingSince(ctx context.Context, cutoff time.Time) ([]*domain.Evidence, error) {
	var rows []evidenceRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT `+evidenceColumns+`
FROM evidence
WHERE status=? AND (processing_started_at IS NULL OR processing_started_at < ?)
ORDER BY uploaded_at`), string(domain.StatusProcessing), utc(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale evidence: %w", err)
	}
	out := make([]*domain.Evidence, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEvidenceRow(row))
	}
	return out, nil
}

func (r *EvidenceRepository) Delete(ctx context.Context, id domain.ID) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM evidence_issues WHERE evidence_id=?`), string(id)); err != nil {
			return fmt.Errorf("delete issues: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM evidence WHERE id=?`), string(id)); err != nil {
			return fmt.Errorf("delete evidence: %w", err)
		}
		return nil
	})
}

func toEvidenceRow(e *domain.Evidence) evidenceRow {
	return evidenceRow{
		ID:                  string(e.ID),
		ProjectID:           e.ProjectID,
		FilePath:            e.FilePath,
		FileURL:             e.FileURL,
		Description:         e.Description,
		Status:              stringOrDash(string(e.Status)),
		UploadedAt:          utc(e.UploadedAt),
		ProcessingStartedAt: utcPtr(e.ProcessingStartedAt),
		AnalyzedAt:          utcPtr(e.AnalyzedAt),
	}
}

func fromEvidenceRow(row evidenceRow) *domain.Evidence {
	return &domain.Evidence{
		ID:                  domain.ID(row.ID),
		ProjectID:           row.ProjectID,
		FilePath:            row.FilePath,
		FileURL:             row.FileURL,
		Description:         row.Description,
		Status:              domain.Status(row.Status),
		UploadedAt:          utc(row.UploadedAt),
		ProcessingStartedAt: utcPtr(row.ProcessingStartedAt),
		AnalyzedAt:          utcPtr(row.AnalyzedAt),
	}
}
