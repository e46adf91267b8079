package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	domain "github.com/bryanwahyu/metro-bim/internal/domain/bim"
)

type documentRow struct {
	ID            string     `db:"id"`
	ProjectID     string     `db:"project_id"`
	FileURL       string     `db:"file_url"`
	Status        string     `db:"status"`
	Schema        string     `db:"ifc_schema"`
	ElementsCount int        `db:"elements_count"`
	ErrorMessage  string     `db:"error_message"`
	UploadedAt    time.Time  `db:"uploaded_at"`
	ProcessedAt   *time.Time `db:"processed_at"`
}

type elementRow struct {
	ID             string `db:"id"`
	DocumentID     string `db:"document_id"`
	ExternalID     string `db:"external_id"`
	Name           string `db:"name"`
	Category       string `db:"category"`
	Code           string `db:"code"`
	PropertiesJSON string `db:"properties_json"`
}

type modelComparisonRow struct {
	ID          string    `db:"id"`
	DocumentID  string    `db:"document_id"`
	Category    string    `db:"category"`
	Description string    `db:"description"`
	Severity    string    `db:"severity"`
	ElementID   string    `db:"element_id"`
	DetailsJSON string    `db:"details_json"`
	CreatedAt   time.Time `db:"created_at"`
}

const documentColumns = `id, project_id, file_url, status, ifc_schema, elements_count, error_message, uploaded_at, processed_at`

// DocumentRepository implements bim.Repository.
type DocumentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) ReplaceForProject(ctx context.Context, doc *domain.Document) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var prior []string
		if err := tx.SelectContext(ctx, &prior, tx.Rebind(`SELECT id FROM model_documents WHERE project_id=?`), doc.ProjectID); err != nil {
			return fmt.Errorf("find prior documents: %w", err)
		}
		for _, id := range prior {
			if err := deleteDocument(ctx, tx, id); err != nil {
				return err
			}
		}
		const q = `
INSERT INTO model_documents (` + documentColumns + `)
VALUES (:id, :project_id, :file_url, :status, :ifc_schema, :elements_count, :error_message, :uploaded_at, :processed_at)`
		if _, err := tx.NamedExecContext(ctx, q, toDocumentRow(doc)); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
}

func (r *DocumentRepository) Get(ctx context.Context, id domain.DocumentID) (*domain.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM model_documents WHERE id=?`, string(id))
}

func (r *DocumentRepository) GetByProject(ctx context.Context, projectID string) (*domain.Document, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM model_documents WHERE project_id=? ORDER BY uploaded_at DESC LIMIT 1`, projectID)
}

func (r *DocumentRepository) getOne(ctx context.Context, q string, arg string) (*domain.Document, error) {
	var row documentRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(q), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return fromDocumentRow(row), nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	const q = `
UPDATE model_documents
SET file_url=:file_url, status=:status, ifc_schema=:ifc_schema, elements_count=:elements_count,
    error_message=:error_message, processed_at=:processed_at
WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, q, toDocumentRow(doc))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, doc.ID)
	}
	return nil
}

func (r *DocumentRepository) ReplaceElements(ctx context.Context, id domain.DocumentID, elements []domain.Element) error {
	rows := make([]elementRow, 0, len(elements))
	for _, e := range elements {
		props, err := encodeMap(e.Properties)
		if err != nil {
			return fmt.Errorf("element %s properties: %w", e.ExternalID, err)
		}
		rows = append(rows, elementRow{
			ID:             e.ID,
			DocumentID:     string(id),
			ExternalID:     e.ExternalID,
			Name:           e.Name,
			Category:       string(e.Category),
			Code:           e.Code,
			PropertiesJSON: props,
		})
	}
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM model_elements WHERE document_id=?`), string(id)); err != nil {
			return fmt.Errorf("clear elements: %w", err)
		}
		const q = `
INSERT INTO model_elements (id, document_id, external_id, name, category, code, properties_json)
VALUES (:id, :document_id, :external_id, :name, :category, :code, :properties_json)`
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("insert element %s: %w", row.ExternalID, err)
			}
		}
		return nil
	})
}

func (r *DocumentRepository) ReplaceComparisons(ctx context.Context, id domain.DocumentID, comparisons []domain.Comparison) error {
	rows := make([]modelComparisonRow, 0, len(comparisons))
	for _, c := range comparisons {
		details, err := encodeMap(c.Details)
		if err != nil {
			return fmt.Errorf("comparison details: %w", err)
		}
		rows = append(rows, modelComparisonRow{
			ID:          c.ID,
			DocumentID:  string(id),
			Category:    c.Category,
			Description: c.Description,
			Severity:    string(c.Severity),
			ElementID:   c.ElementID,
			DetailsJSON: details,
			CreatedAt:   utc(c.CreatedAt),
		})
	}
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM model_comparisons WHERE document_id=?`), string(id)); err != nil {
			return fmt.Errorf("clear comparisons: %w", err)
		}
		const q = `
INSERT INTO model_comparisons (id, document_id, category, description, severity, element_id, details_json, created_at)
VALUES (:id, :document_id, :category, :description, :severity, :element_id, :details_json, :created_at)`
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("insert comparison: %w", err)
			}
		}
		return nil
	})
}

func (r *DocumentRepository) ListElements(ctx context.Context, id domain.DocumentID) ([]domain.Element, error) {
	var rows []elementRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, document_id, external_id, name, category, code, properties_json
FROM model_elements WHERE document_id=? ORDER BY category, external_id`), string(id))
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	out := make([]domain.Element, 0, len(rows))
	for _, row := range rows {
		props, err := decodeMap(row.PropertiesJSON)
		if err != nil {
			return nil, fmt.Errorf("element %s properties: %w", row.ExternalID, err)
		}
		out = append(out, domain.Element{
			ID:         row.ID,
			DocumentID: domain.DocumentID(row.DocumentID),
			ExternalID: row.ExternalID,
			Name:       row.Name,
			Category:   domain.Category(row.Category),
			Code:       row.Code,
			Properties: props,
		})
	}
	return out, nil
}

func (r *DocumentRepository) ListComparisons(ctx context.Context, id domain.DocumentID) ([]domain.Comparison, error) {
	var rows []modelComparisonRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
SELECT id, document_id, category, description, severity, element_id, details_json, created_at
FROM model_comparisons WHERE document_id=? ORDER BY created_at, category`), string(id))
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	out := make([]domain.Comparison, 0, len(rows))
	for _, row := range rows {
		details, err := decodeMap(row.DetailsJSON)
		if err != nil {
			return nil, fmt.Errorf("comparison %s details: %w", row.ID, err)
		}
		out = append(out, domain.Comparison{
			ID:          row.ID,
			DocumentID:  domain.DocumentID(row.DocumentID),
			Category:    row.Category,
			Description: row.Description,
			Severity:    domain.Severity(row.Severity),
			ElementID:   row.ElementID,
			Details:     details,
			CreatedAt:   utc(row.CreatedAt),
		})
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id domain.DocumentID) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return deleteDocument(ctx, tx, string(id))
	})
}

// deleteDocument removes children explicitly so SQLite connections without
// foreign_keys enabled still cascade.
func deleteDocument(ctx context.Context, tx *sqlx.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM model_elements WHERE document_id=?`,
		`DELETE FROM model_comparisons WHERE document_id=?`,
		`DELETE FROM model_documents WHERE id=?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}
	return nil
}

func toDocumentRow(d *domain.Document) documentRow {
	return documentRow{
		ID:            string(d.ID),
		ProjectID:     d.ProjectID,
		FileURL:       d.FileURL,
		Status:        stringOrDash(string(d.Status)),
		Schema:        d.Schema,
		ElementsCount: d.ElementsCount,
		ErrorMessage:  d.ErrorMessage,
		UploadedAt:    utc(d.UploadedAt),
		ProcessedAt:   utcPtr(d.ProcessedAt),
	}
}

func fromDocumentRow(row documentRow) *domain.Document {
	return &domain.Document{
		ID:            domain.DocumentID(row.ID),
		ProjectID:     row.ProjectID,
		FileURL:       row.FileURL,
		Status:        domain.Status(row.Status),
		Schema:        row.Schema,
		ElementsCount: row.ElementsCount,
		ErrorMessage:  row.ErrorMessage,
		UploadedAt:    utc(row.UploadedAt),
		ProcessedAt:   utcPtr(row.ProcessedAt),
	}
}
