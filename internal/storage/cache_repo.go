package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"policyreader/internal/aliases"
	"policyreader/internal/prompts"
	"policyreader/internal/util"
)

// AliasRepo persists built alias maps, one row per category.
type AliasRepo struct {
	db *DB
}

func NewAliasRepo(db *DB) *AliasRepo {
	return &AliasRepo{db: db}
}

func (r *AliasRepo) LoadAliasMap(ctx context.Context, category string) (*aliases.Map, error) {
	var fp string
	var raw []byte
	var builtAt time.Time
	err := r.db.Pool.QueryRow(ctx, `SELECT fingerprint, entries, built_at FROM alias_maps WHERE category=$1`,
		categoryKey(category)).Scan(&fp, &raw, &builtAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alias map %s: %w", category, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load alias map: %w", err)
	}
	var entries []aliases.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode alias entries: %w", err)
	}
	return aliases.NewMap(category, fp, entries, builtAt), nil
}

func (r *AliasRepo) SaveAliasMap(ctx context.Context, m *aliases.Map) error {
	raw, err := json.Marshal(m.Entries)
	if err != nil {
		return fmt.Errorf("encode alias entries: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO alias_maps (category, fingerprint, entries, built_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (category)
DO UPDATE SET fingerprint = EXCLUDED.fingerprint, entries = EXCLUDED.entries, built_at = EXCLUDED.built_at`,
		categoryKey(m.Category), m.Fingerprint, string(raw), m.BuiltAt)
	if err != nil {
		return fmt.Errorf("save alias map: %w", err)
	}
	return nil
}

// PromptRepo persists extraction templates, one row per category.
type PromptRepo struct {
	db *DB
}

func NewPromptRepo(db *DB) *PromptRepo {
	return &PromptRepo{db: db}
}

func (r *PromptRepo) LoadPrompt(ctx context.Context, category string) (prompts.Template, error) {
	t := prompts.Template{Category: category}
	err := r.db.Pool.QueryRow(ctx, `
SELECT head, tail, fingerprint, schema_fingerprint FROM extraction_prompts WHERE category=$1`,
		categoryKey(category)).Scan(&t.Head, &t.Tail, &t.Fingerprint, &t.SchemaFingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return prompts.Template{}, fmt.Errorf("prompt %s: %w", category, util.ErrNotFound)
	}
	if err != nil {
		return prompts.Template{}, fmt.Errorf("load prompt: %w", err)
	}
	return t, nil
}

func (r *PromptRepo) SavePrompt(ctx context.Context, t prompts.Template) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO extraction_prompts (category, head, tail, fingerprint, schema_fingerprint, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (category)
DO UPDATE SET head = EXCLUDED.head, tail = EXCLUDED.tail, fingerprint = EXCLUDED.fingerprint,
  schema_fingerprint = EXCLUDED.schema_fingerprint, updated_at = NOW()`,
		categoryKey(t.Category), t.Head, t.Tail, t.Fingerprint, t.SchemaFingerprint)
	if err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

func categoryKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
