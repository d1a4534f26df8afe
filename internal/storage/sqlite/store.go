// Package sqlite is the single-file document store used by the local CLI and
// by tests. It implements the same contracts as the Postgres repositories.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"policyreader/internal/aliases"
	"policyreader/internal/models"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/util"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const documentColumns = `id, owner, title, source_file, category, status, extracted_fields, raw_text,
       confidence, processing_method, error_message, needs_review, diagnostics, attempt_id,
       retry_count, processing_seconds, created_at, processing_started_at, attempt_started_at,
       completed_at, updated_at`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := util.EnsureDir(dirOf(path)); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, d models.Document) (models.Document, error) {
	out, err := scanDocument(s.db.QueryRowContext(ctx, `
INSERT INTO documents (id, owner, title, source_file, category, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'Draft', ?, ?)
RETURNING `+documentColumns,
		d.ID, d.Owner, d.Title, d.SourceFile, d.Category, ts(d.CreatedAt), ts(d.CreatedAt)))
	if err != nil {
		return models.Document{}, fmt.Errorf("create document: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *Store) List(ctx context.Context, status models.Status, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE (? = '' OR status = ?)
ORDER BY created_at DESC
LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) ListProcessing(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE status='Processing' ORDER BY attempt_started_at`)
	if err != nil {
		return nil, fmt.Errorf("list processing documents: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) BeginProcessing(ctx context.Context, id, attemptID string, at time.Time) (models.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `
UPDATE documents SET
  status = 'Processing', attempt_id = ?, retry_count = 0, error_message = '',
  processing_started_at = ?, attempt_started_at = ?, completed_at = NULL, updated_at = ?
WHERE id = ? AND status IN ('Draft','Failed') AND source_file <> '' AND category <> ''
RETURNING `+documentColumns, attemptID, ts(at), ts(at), ts(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return models.Document{}, gerr
		}
		if err := cur.Admit(); err != nil {
			return models.Document{}, err
		}
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrAlreadyProcessing)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("begin processing: %w", err)
	}
	return d, nil
}

func (s *Store) RetryProcessing(ctx context.Context, id, staleAttemptID, attemptID string, at time.Time) (models.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `
UPDATE documents SET attempt_id = ?, retry_count = retry_count + 1, attempt_started_at = ?, updated_at = ?
WHERE id = ? AND status = 'Processing' AND attempt_id = ?
RETURNING `+documentColumns, attemptID, ts(at), ts(at), id, staleAttemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("retry %s: %w", id, util.ErrStaleAttempt)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("retry processing: %w", err)
	}
	return d, nil
}

func (s *Store) Complete(ctx context.Context, id, attemptID string, ex models.Extraction, at time.Time) error {
	fields := ex.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	rawFields, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}
	diag, err := json.Marshal(ex.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET
  status = 'Completed', extracted_fields = ?, raw_text = ?, confidence = ?, processing_method = ?,
  needs_review = ?, diagnostics = ?, processing_seconds = ?, error_message = '',
  completed_at = ?, updated_at = ?
WHERE id = ? AND status = 'Processing' AND attempt_id = ?`,
		string(rawFields), util.SanitizeText(ex.RawText), ex.Confidence, ex.Method, ex.NeedsReview,
		string(diag), ex.ProcessingSeconds, ts(at), ts(at), id, attemptID)
	return checkCAS(res, err, "complete", id)
}

func (s *Store) Fail(ctx context.Context, id, attemptID, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET status = 'Failed', extracted_fields = '{}', error_message = ?, completed_at = NULL, updated_at = ?
WHERE id = ? AND status = 'Processing' AND attempt_id = ?`, message, ts(at), id, attemptID)
	return checkCAS(res, err, "fail", id)
}

func (s *Store) Reset(ctx context.Context, id string, at time.Time) (models.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `
UPDATE documents SET
  status = 'Draft', extracted_fields = '{}', raw_text = '', confidence = 0, processing_method = '',
  error_message = '', needs_review = 0, diagnostics = '{}', attempt_id = '', retry_count = 0,
  processing_seconds = 0, processing_started_at = NULL, attempt_started_at = NULL,
  completed_at = NULL, updated_at = ?
WHERE id = ?
RETURNING `+documentColumns, ts(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("reset document: %w", err)
	}
	return d, nil
}

func (s *Store) LoadAliasMap(ctx context.Context, category string) (*aliases.Map, error) {
	var fp, raw, builtAt string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint, entries, built_at FROM alias_maps WHERE category=?`, key(category)).
		Scan(&fp, &raw, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alias map %s: %w", category, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load alias map: %w", err)
	}
	var entries []aliases.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode alias entries: %w", err)
	}
	t, err := parseTS(builtAt)
	if err != nil {
		return nil, err
	}
	return aliases.NewMap(category, fp, entries, t), nil
}

func (s *Store) SaveAliasMap(ctx context.Context, m *aliases.Map) error {
	raw, err := json.Marshal(m.Entries)
	if err != nil {
		return fmt.Errorf("encode alias entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO alias_maps (category, fingerprint, entries, built_at) VALUES (?, ?, ?, ?)
ON CONFLICT (category) DO UPDATE SET fingerprint = excluded.fingerprint, entries = excluded.entries, built_at = excluded.built_at`,
		key(m.Category), m.Fingerprint, string(raw), ts(m.BuiltAt))
	if err != nil {
		return fmt.Errorf("save alias map: %w", err)
	}
	return nil
}

func (s *Store) LoadPrompt(ctx context.Context, category string) (prompts.Template, error) {
	t := prompts.Template{Category: category}
	err := s.db.QueryRowContext(ctx, `SELECT head, tail, fingerprint, schema_fingerprint FROM extraction_prompts WHERE category=?`, key(category)).
		Scan(&t.Head, &t.Tail, &t.Fingerprint, &t.SchemaFingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return prompts.Template{}, fmt.Errorf("prompt %s: %w", category, util.ErrNotFound)
	}
	if err != nil {
		return prompts.Template{}, fmt.Errorf("load prompt: %w", err)
	}
	return t, nil
}

func (s *Store) SavePrompt(ctx context.Context, t prompts.Template) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO extraction_prompts (category, head, tail, fingerprint, schema_fingerprint, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (category) DO UPDATE SET head = excluded.head, tail = excluded.tail, fingerprint = excluded.fingerprint,
  schema_fingerprint = excluded.schema_fingerprint, updated_at = excluded.updated_at`,
		key(t.Category), t.Head, t.Tail, t.Fingerprint, t.SchemaFingerprint, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

func (s *Store) SaveRecord(ctx context.Context, rec models.PolicyRecord) error {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode record fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO policy_records (document_id, category, fields, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
  category = excluded.category,
  fields = json_patch(policy_records.fields, excluded.fields),
  updated_at = excluded.updated_at`,
		rec.DocumentID, rec.Category, string(raw), ts(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save policy record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, documentID string) (models.PolicyRecord, error) {
	rec := models.PolicyRecord{DocumentID: documentID}
	var raw, updated string
	err := s.db.QueryRowContext(ctx, `SELECT category, fields, updated_at FROM policy_records WHERE document_id=?`, documentID).
		Scan(&rec.Category, &raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PolicyRecord{}, fmt.Errorf("record %s: %w", documentID, util.ErrNotFound)
	}
	if err != nil {
		return models.PolicyRecord{}, fmt.Errorf("get policy record: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Fields); err != nil {
		return models.PolicyRecord{}, fmt.Errorf("decode record fields: %w", err)
	}
	if rec.UpdatedAt, err = parseTS(updated); err != nil {
		return models.PolicyRecord{}, err
	}
	return rec, nil
}

func (s *Store) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO llm_calls (call_id, operation, document_id, attempt_id, provider, model, status, error_type, duration_ms, created_at)
VALUES (?, ?, NULLIF(?,''), NULLIF(?,''), ?, ?, ?, NULLIF(?,''), ?, ?)`,
		rec.CallID, rec.Operation, rec.DocumentID, rec.AttemptID, rec.Provider, rec.Model, rec.Status, rec.ErrorType,
		rec.Duration.Milliseconds(), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// CountCalls returns the number of audited LLM calls for a document.
func (s *Store) CountCalls(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_calls WHERE document_id=?`, documentID).Scan(&n)
	return n, err
}

func checkCAS(res sql.Result, err error, op, id string) error {
	if err != nil {
		return fmt.Errorf("%s document: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s document: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, util.ErrStaleAttempt)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collect(rows *sql.Rows) ([]models.Document, error) {
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

func scanDocument(row scanner) (models.Document, error) {
	var d models.Document
	var status, fields, diag, created, updated string
	var started, attempt, completed sql.NullString
	err := row.Scan(&d.ID, &d.Owner, &d.Title, &d.SourceFile, &d.Category, &status, &fields, &d.RawText,
		&d.Confidence, &d.ProcessingMethod, &d.ErrorMessage, &d.NeedsReview, &diag, &d.AttemptID,
		&d.RetryCount, &d.ProcessingSeconds, &created, &started, &attempt, &completed, &updated)
	if err != nil {
		return models.Document{}, err
	}
	d.Status = models.Status(status)
	if err := json.Unmarshal([]byte(fields), &d.ExtractedFields); err != nil {
		return models.Document{}, fmt.Errorf("decode extracted fields: %w", err)
	}
	if len(d.ExtractedFields) == 0 {
		d.ExtractedFields = nil
	}
	if err := json.Unmarshal([]byte(diag), &d.Diagnostics); err != nil {
		return models.Document{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	if d.CreatedAt, err = parseTS(created); err != nil {
		return models.Document{}, err
	}
	if d.UpdatedAt, err = parseTS(updated); err != nil {
		return models.Document{}, err
	}
	for _, p := range []struct {
		src sql.NullString
		dst **time.Time
	}{{started, &d.ProcessingStartedAt}, {attempt, &d.AttemptStartedAt}, {completed, &d.CompletedAt}} {
		if !p.src.Valid {
			continue
		}
		t, err := parseTS(p.src.String)
		if err != nil {
			return models.Document{}, err
		}
		*p.dst = &t
	}
	return d, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func key(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func dirOf(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i <= 0 {
		return "."
	}
	return path[:i]
}
