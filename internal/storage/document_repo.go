package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"policyreader/internal/models"
	"policyreader/internal/util"
)

const documentColumns = `id, owner, title, source_file, category, status, extracted_fields, raw_text,
       confidence, processing_method, error_message, needs_review, diagnostics, attempt_id,
       retry_count, processing_seconds, created_at, processing_started_at, attempt_started_at,
       completed_at, updated_at`

// DocumentRepo persists documents. Every status transition is a conditional
// UPDATE so concurrent callers cannot both win.
type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, d models.Document) (models.Document, error) {
	row := r.db.Pool.QueryRow(ctx, `
INSERT INTO documents (id, owner, title, source_file, category, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'Draft', $6, $6)
RETURNING `+documentColumns,
		d.ID, d.Owner, d.Title, d.SourceFile, d.Category, d.CreatedAt)
	out, err := scanDocument(row)
	if err != nil {
		return models.Document{}, fmt.Errorf("create document: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// List returns documents newest first, optionally filtered by status.
func (r *DocumentRepo) List(ctx context.Context, status models.Status, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *DocumentRepo) ListProcessing(ctx context.Context) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE status = 'Processing'
ORDER BY attempt_started_at`)
	if err != nil {
		return nil, fmt.Errorf("list processing documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *DocumentRepo) BeginProcessing(ctx context.Context, id, attemptID string, at time.Time) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `
UPDATE documents SET
  status = 'Processing',
  attempt_id = $2,
  retry_count = 0,
  error_message = '',
  processing_started_at = $3,
  attempt_started_at = $3,
  completed_at = NULL,
  updated_at = $3
WHERE id = $1
  AND status IN ('Draft', 'Failed')
  AND source_file <> ''
  AND category <> ''
RETURNING `+documentColumns, id, attemptID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, r.explainRejection(ctx, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("begin processing: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) RetryProcessing(ctx context.Context, id, staleAttemptID, attemptID string, at time.Time) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `
UPDATE documents SET
  attempt_id = $3,
  retry_count = retry_count + 1,
  attempt_started_at = $4,
  updated_at = $4
WHERE id = $1 AND status = 'Processing' AND attempt_id = $2
RETURNING `+documentColumns, id, staleAttemptID, attemptID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("retry %s: %w", id, util.ErrStaleAttempt)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("retry processing: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) Complete(ctx context.Context, id, attemptID string, ex models.Extraction, at time.Time) error {
	fields, err := json.Marshal(nonNilFields(ex.Fields))
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}
	diag, err := json.Marshal(ex.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET
  status = 'Completed',
  extracted_fields = $3::jsonb,
  raw_text = $4,
  confidence = $5,
  processing_method = $6,
  needs_review = $7,
  diagnostics = $8::jsonb,
  processing_seconds = $9,
  error_message = '',
  completed_at = $10,
  updated_at = $10
WHERE id = $1 AND status = 'Processing' AND attempt_id = $2`,
		id, attemptID, string(fields), util.SanitizeText(ex.RawText), ex.Confidence, ex.Method,
		ex.NeedsReview, string(diag), ex.ProcessingSeconds, at)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s: %w", id, util.ErrStaleAttempt)
	}
	return nil
}

func (r *DocumentRepo) Fail(ctx context.Context, id, attemptID, message string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET
  status = 'Failed',
  extracted_fields = '{}'::jsonb,
  error_message = $3,
  completed_at = NULL,
  updated_at = $4
WHERE id = $1 AND status = 'Processing' AND attempt_id = $2`, id, attemptID, message, at)
	if err != nil {
		return fmt.Errorf("fail document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail %s: %w", id, util.ErrStaleAttempt)
	}
	return nil
}

// Reset returns a document to Draft from any status and clears its
// extraction output. A running attempt is not interrupted; its result is
// discarded because the attempt id no longer matches.
func (r *DocumentRepo) Reset(ctx context.Context, id string, at time.Time) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `
UPDATE documents SET
  status = 'Draft',
  extracted_fields = '{}'::jsonb,
  raw_text = '',
  confidence = 0,
  processing_method = '',
  error_message = '',
  needs_review = FALSE,
  diagnostics = '{}'::jsonb,
  attempt_id = '',
  retry_count = 0,
  processing_seconds = 0,
  processing_started_at = NULL,
  attempt_started_at = NULL,
  completed_at = NULL,
  updated_at = $2
WHERE id = $1
RETURNING `+documentColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("reset document: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) explainRejection(ctx context.Context, id string) error {
	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return RejectionFor(d)
}

// RejectionFor names why d was not moved into Processing. A document that
// looks admissible lost a concurrent transition.
func RejectionFor(d models.Document) error {
	if err := d.Admit(); err != nil {
		return err
	}
	return fmt.Errorf("document %s: %w", d.ID, util.ErrAlreadyProcessing)
}

func nonNilFields(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func collectDocuments(rows pgx.Rows) ([]models.Document, error) {
	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	var status string
	var fields, diag []byte
	err := row.Scan(&d.ID, &d.Owner, &d.Title, &d.SourceFile, &d.Category, &status, &fields, &d.RawText,
		&d.Confidence, &d.ProcessingMethod, &d.ErrorMessage, &d.NeedsReview, &diag, &d.AttemptID,
		&d.RetryCount, &d.ProcessingSeconds, &d.CreatedAt, &d.ProcessingStartedAt, &d.AttemptStartedAt,
		&d.CompletedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, err
	}
	d.Status = models.Status(status)
	if err := decodeDocumentJSON(&d, fields, diag); err != nil {
		return models.Document{}, err
	}
	return d, nil
}

func decodeDocumentJSON(d *models.Document, fields, diag []byte) error {
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &d.ExtractedFields); err != nil {
			return fmt.Errorf("decode extracted fields: %w", err)
		}
	}
	if len(d.ExtractedFields) == 0 {
		d.ExtractedFields = nil
	}
	if len(diag) > 0 {
		if err := json.Unmarshal(diag, &d.Diagnostics); err != nil {
			return fmt.Errorf("decode diagnostics: %w", err)
		}
	}
	return nil
}
