package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"policyreader/internal/util"
)

// NewDocument returns a Draft document. An empty title defaults to the
// source file name without its extension.
func NewDocument(id, owner, title, sourceFile, category string, now time.Time) Document {
	title = strings.TrimSpace(title)
	if title == "" && sourceFile != "" {
		base := path.Base(strings.ReplaceAll(sourceFile, "\\", "/"))
		title = strings.TrimSuffix(base, path.Ext(base))
	}
	return Document{
		ID:         id,
		Owner:      strings.TrimSpace(owner),
		Title:      title,
		SourceFile: strings.TrimSpace(sourceFile),
		Category:   strings.TrimSpace(category),
		Status:     StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Admit reports why d cannot enter Processing, or nil when it can.
func (d Document) Admit() error {
	switch {
	case d.Status == StatusProcessing:
		return fmt.Errorf("document %s: %w", d.ID, util.ErrAlreadyProcessing)
	case d.Status == StatusCompleted:
		return fmt.Errorf("document %s: %w", d.ID, util.ErrAlreadyCompleted)
	case d.SourceFile == "":
		return fmt.Errorf("document %s: %w", d.ID, util.ErrMissingSourceFile)
	case d.Category == "":
		return fmt.Errorf("document %s: %w", d.ID, util.ErrMissingCategory)
	case d.Status != StatusDraft && d.Status != StatusFailed:
		return fmt.Errorf("document %s: cannot enter processing from %q", d.ID, d.Status)
	}
	return nil
}
