package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"policyreader/internal/models"
	"policyreader/internal/util"
)

// RecordRepo stores typed policy records. Saving merges fields into the
// existing record, so values written by trusted sources under other keys
// are kept.
type RecordRepo struct {
	db *DB
}

func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

func (r *RecordRepo) SaveRecord(ctx context.Context, rec models.PolicyRecord) error {
	raw, err := json.Marshal(nonNilFields(rec.Fields))
	if err != nil {
		return fmt.Errorf("encode record fields: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO policy_records (document_id, category, fields, updated_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (document_id)
DO UPDATE SET
  category = EXCLUDED.category,
  fields = policy_records.fields || EXCLUDED.fields,
  updated_at = EXCLUDED.updated_at`,
		rec.DocumentID, rec.Category, string(raw), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save policy record: %w", err)
	}
	return nil
}

func (r *RecordRepo) GetRecord(ctx context.Context, documentID string) (models.PolicyRecord, error) {
	rec := models.PolicyRecord{DocumentID: documentID}
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT category, fields, updated_at FROM policy_records WHERE document_id=$1`, documentID).
		Scan(&rec.Category, &raw, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PolicyRecord{}, fmt.Errorf("record %s: %w", documentID, util.ErrNotFound)
	}
	if err != nil {
		return models.PolicyRecord{}, fmt.Errorf("get policy record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return models.PolicyRecord{}, fmt.Errorf("decode record fields: %w", err)
	}
	return rec, nil
}
