package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/bryanwahyu/metro-bim/internal/domain/analysis"
)

type runRow struct {
	ID             string    `db:"id"`
	ProjectName    string    `db:"project_name"`
	RequestedBy    string    `db:"requested_by"`
	BimSourceURI   string    `db:"bim_source_uri"`
	ImageSourceURI string    `db:"image_source_uri"`
	Status         string    `db:"status"`
	Notes          string    `db:"notes"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

type resultRow struct {
	ID          string     `db:"id"`
	RunID       string     `db:"run_id"`
	Kind        string     `db:"kind"`
	Status      string     `db:"status"`
	SourceURI   string     `db:"source_uri"`
	Summary     string     `db:"summary"`
	Notes       string     `db:"notes"`
	RawOutput   string     `db:"raw_output"`
	IssuesJSON  string     `db:"issues_json"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

type comparisonRow struct {
	ID                   string    `db:"id"`
	RunID                string    `db:"run_id"`
	SimilarityScore      float64   `db:"similarity_score"`
	CompletionPercentage float64   `db:"completion_percentage"`
	Summary              string    `db:"summary"`
	MismatchesJSON       string    `db:"mismatches_json"`
	CreatedAt            time.Time `db:"created_at"`
}

// AnalysisRepository implements analysis.Repository. Sub-results live in
// analysis_results and comparison_results and are rewritten with the run.
type AnalysisRepository struct {
	db *sqlx.DB
}

func NewAnalysisRepository(db *sqlx.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	row := toRunRow(run)
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const q = `
INSERT INTO analysis_runs
  (id, project_name, requested_by, bim_source_uri, image_source_uri, status, notes, created_at, updated_at)
VALUES
  (:id, :project_name, :requested_by, :bim_source_uri, :image_source_uri, :status, :notes, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return insertSubResults(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *AnalysisRepository) Update(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	row := toRunRow(run)
	err := inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const q = `
UPDATE analysis_runs
SET project_name=:project_name, requested_by=:requested_by,
    bim_source_uri=:bim_source_uri, image_source_uri=:image_source_uri,
    status=:status, notes=:notes, updated_at=:updated_at
WHERE id=:id`
		res, err := tx.NamedExecContext(ctx, q, row)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, run.ID)
		}
		for _, table := range []string{"analysis_results", "comparison_results"} {
			if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE run_id=?"), string(run.ID)); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return insertSubResults(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
SELECT id, project_name, requested_by, bim_source_uri, image_source_uri, status, notes, created_at, updated_at
FROM analysis_runs WHERE id=?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	runs, err := r.attach(ctx, []runRow{row})
	if err != nil {
		return nil, err
	}
	return runs[0], nil
}

// ListRecent returns runs newest first.
func (r *AnalysisRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, project_name, requested_by, bim_source_uri, image_source_uri, status, notes, created_at, updated_at
FROM analysis_runs
ORDER BY created_at DESC, id DESC
LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(rows) == 0 {
		return []*domain.Run{}, nil
	}
	return r.attach(ctx, rows)
}

// attach loads the sub-results of every run in one query per table.
func (r *AnalysisRepository) attach(ctx context.Context, rows []runRow) ([]*domain.Run, error) {
	ids := make([]string, len(rows))
	byID := make(map[string]*domain.Run, len(rows))
	out := make([]*domain.Run, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
		out[i] = fromRunRow(row)
		byID[row.ID] = out[i]
	}

	q, args, err := sqlx.In(`
SELECT id, run_id, kind, status, source_uri, summary, notes, raw_output, issues_json, created_at, completed_at
FROM analysis_results WHERE run_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var results []resultRow
	if err := r.db.SelectContext(ctx, &results, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("load analysis results: %w", err)
	}
	for _, rr := range results {
		res, err := fromResultRow(rr)
		if err != nil {
			return nil, err
		}
		run := byID[rr.RunID]
		switch res.Kind {
		case domain.KindBIM:
			run.Bim = res
		case domain.KindImage:
			run.Image = res
		}
	}

	q, args, err = sqlx.In(`
SELECT id, run_id, similarity_score, completion_percentage, summary, mismatches_json, created_at
FROM comparison_results WHERE run_id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var cmps []comparisonRow
	if err := r.db.SelectContext(ctx, &cmps, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("load comparison results: %w", err)
	}
	for _, cr := range cmps {
		mismatches, err := domain.DecodeStrings(cr.MismatchesJSON)
		if err != nil {
			return nil, err
		}
		byID[cr.RunID].Comparison = &domain.Comparison{
			ID:                   cr.ID,
			SimilarityScore:      cr.SimilarityScore,
			CompletionPercentage: cr.CompletionPercentage,
			Summary:              cr.Summary,
			Mismatches:           mismatches,
			CreatedAt:            utc(cr.CreatedAt),
		}
	}
	return out, nil
}

func insertSubResults(ctx context.Context, tx *sqlx.Tx, run *domain.Run) error {
	for _, res := range []*domain.Result{run.Bim, run.Image} {
		if res == nil {
			continue
		}
		row, err := toResultRow(run.ID, res)
		if err != nil {
			return err
		}
		const q = `
INSERT INTO analysis_results
  (id, run_id, kind, status, source_uri, summary, notes, raw_output, issues_json, created_at, completed_at)
VALUES
  (:id, :run_id, :kind, :status, :source_uri, :summary, :notes, :raw_output, :issues_json, :created_at, :completed_at)`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("insert %s result: %w", res.Kind, err)
		}
	}
	if c := run.Comparison; c != nil {
		mismatches, err := domain.EncodeStrings(c.Mismatches)
		if err != nil {
			return err
		}
		row := comparisonRow{
			ID:                   c.ID,
			RunID:                string(run.ID),
			SimilarityScore:      c.SimilarityScore,
			CompletionPercentage: c.CompletionPercentage,
			Summary:              c.Summary,
			MismatchesJSON:       mismatches,
			CreatedAt:            utc(c.CreatedAt),
		}
		const q = `
INSERT INTO comparison_results
  (id, run_id, similarity_score, completion_percentage, summary, mismatches_json, created_at)
VALUES
  (:id, :run_id, :similarity_score, :completion_percentage, :summary, :mismatches_json, :created_at)`
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("insert comparison result: %w", err)
		}
	}
	return nil
}

func toRunRow(r *domain.Run) runRow {
	return runRow{
		ID:             string(r.ID),
		ProjectName:    r.ProjectName,
		RequestedBy:    r.RequestedBy,
		BimSourceURI:   r.BimSourceURI,
		ImageSourceURI: r.ImageSourceURI,
		Status:         stringOrDash(string(r.Status)),
		Notes:          r.Notes,
		CreatedAt:      utc(r.CreatedAt),
		UpdatedAt:      utc(r.UpdatedAt),
	}
}

func fromRunRow(row runRow) *domain.Run {
	return &domain.Run{
		ID:             domain.RunID(row.ID),
		ProjectName:    row.ProjectName,
		RequestedBy:    row.RequestedBy,
		BimSourceURI:   row.BimSourceURI,
		ImageSourceURI: row.ImageSourceURI,
		Status:         domain.Status(row.Status),
		Notes:          row.Notes,
		CreatedAt:      utc(row.CreatedAt),
		UpdatedAt:      utc(row.UpdatedAt),
	}
}

func toResultRow(runID domain.RunID, res *domain.Result) (resultRow, error) {
	issues, err := domain.EncodeIssues(res.Issues)
	if err != nil {
		return resultRow{}, err
	}
	return resultRow{
		ID:          res.ID,
		RunID:       string(runID),
		Kind:        string(res.Kind),
		Status:      stringOrDash(string(res.Status)),
		SourceURI:   res.SourceURI,
		Summary:     res.Summary,
		Notes:       res.Notes,
		RawOutput:   res.RawOutput,
		IssuesJSON:  issues,
		CreatedAt:   utc(res.CreatedAt),
		CompletedAt: utcPtr(res.CompletedAt),
	}, nil
}

func fromResultRow(row resultRow) (*domain.Result, error) {
	issues, err := domain.DecodeIssues(row.IssuesJSON)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", row.ID, err)
	}
	return &domain.Result{
		ID:          row.ID,
		Kind:        domain.Kind(row.Kind),
		Status:      domain.Status(row.Status),
		SourceURI:   row.SourceURI,
		Summary:     row.Summary,
		Notes:       row.Notes,
		RawOutput:   row.RawOutput,
		Issues:      issues,
		CreatedAt:   utc(row.CreatedAt),
		CompletedAt: utcPtr(row.CompletedAt),
	}, nil
}
