// Package pipeline drives one policy document from Draft to Completed or
// Failed: source file, OCR, prompt, LLM, parse, map, convert, persist, notify.
package pipeline

import (
	"context"
	"time"

	"policyreader/internal/aliases"
	"policyreader/internal/models"
	"policyreader/internal/ocr"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/sources"
)

// DocumentStore persists documents. Every transition out of Processing is a
// compare-and-set on (status, attempt id).
type DocumentStore interface {
	Get(ctx context.Context, id string) (models.Document, error)
	ListProcessing(ctx context.Context) ([]models.Document, error)
	BeginProcessing(ctx context.Context, id, attemptID string, at time.Time) (models.Document, error)
	RetryProcessing(ctx context.Context, id, staleAttemptID, attemptID string, at time.Time) (models.Document, error)
	Complete(ctx context.Context, id, attemptID string, ex models.Extraction, at time.Time) error
	Fail(ctx context.Context, id, attemptID, message string, at time.Time) error
	Reset(ctx context.Context, id string, at time.Time) (models.Document, error)
}

type RecordStore interface {
	SaveRecord(ctx context.Context, rec models.PolicyRecord) error
}

type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (ocr.Result, error)
}

type Completer interface {
	Complete(ctx context.Context, instruction, modelID string) (providers.Completion, error)
	Configured() error
}

type Sources interface {
	Check(ctx context.Context, ref string) error
	Fetch(ctx context.Context, ref string) (sources.Local, error)
}

type PromptResolver interface {
	Resolve(ctx context.Context, category, text string) (prompts.Resolution, error)
}

type AliasSource interface {
	Get(ctx context.Context, category string) *aliases.Map
}

type Notifier interface {
	Publish(ctx context.Context, event string, payload map[string]any, addressee string)
}

// Job is one processing attempt of one document.
type Job struct {
	DocumentID string `json:"document_id"`
	AttemptID  string `json:"attempt_id"`
}

// Handle tracks a dispatched job.
type Handle interface {
	ID() string
	Wait(ctx context.Context) error
}

// Dispatcher runs jobs asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (Handle, error)
}
