package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"policyreader/internal/aliases"
	"policyreader/internal/convert"
	"policyreader/internal/mapping"
	"policyreader/internal/models"
	"policyreader/internal/notify"
	"policyreader/internal/ocr"
	"policyreader/internal/parser"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/schema"
	"policyreader/internal/util"
)

// DefaultConfidenceThreshold is the OCR confidence below which a completed
// document is flagged for manual review.
const DefaultConfidenceThreshold = 70.0

var errNoText = errors.New("no text extracted from document")

type Settings struct {
	OCRTimeout          time.Duration
	LLMTimeout          time.Duration
	ConfidenceThreshold float64
	Model               string
	// ArtifactDir, when set, receives one JSON file per attempt with the raw
	// model response and diagnostics.
	ArtifactDir string
}

type Deps struct {
	Store    DocumentStore
	Records  RecordStore
	Sources  Sources
	OCR      TextExtractor
	Prompts  PromptResolver
	Aliases  AliasSource
	Schema   schema.Source
	LLM      Completer
	Notifier Notifier
	Log      *slog.Logger
}

// Runner executes processing attempts. The steps are exported so the
// Temporal activities can run them one at a time.
type Runner struct {
	Deps
	set    Settings
	mapper *mapping.Mapper
	conv   *convert.Converter
	now    func() time.Time
}

func NewRunner(d Deps, set Settings) *Runner {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if set.OCRTimeout <= 0 {
		set.OCRTimeout = 180 * time.Second
	}
	if set.LLMTimeout <= 0 {
		set.LLMTimeout = 120 * time.Second
	}
	if set.ConfidenceThreshold <= 0 {
		set.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return &Runner{
		Deps:   d,
		set:    set,
		mapper: mapping.NewMapper(d.Log),
		conv:   convert.NewConverter(d.Log),
		now:    time.Now,
	}
}

func (r *Runner) Settings() Settings { return r.set }

// Run processes one attempt end to end. It returns nil when the document
// completed, util.ErrStaleAttempt when the attempt was superseded, and the
// failure cause otherwise.
func (r *Runner) Run(ctx context.Context, job Job) error {
	doc, err := r.Load(ctx, job)
	if err != nil {
		if errors.Is(err, util.ErrStaleAttempt) {
			r.Log.Info("pipeline.skip_stale", "document_id", job.DocumentID, "attempt_id", job.AttemptID)
		}
		return err
	}
	ex, err := r.extract(ctx, doc)
	if err != nil {
		if aerr := r.Abort(ctx, doc, job.AttemptID, err); aerr != nil {
			return aerr
		}
		return fmt.Errorf("process %s: %w", doc.ID, err)
	}
	return r.Finish(ctx, doc, job.AttemptID, ex)
}

func (r *Runner) extract(ctx context.Context, doc models.Document) (models.Extraction, error) {
	text, err := r.ReadText(ctx, doc)
	if err != nil {
		return models.Extraction{}, err
	}
	res, err := r.Prompt(ctx, doc, text.Text)
	if err != nil {
		return models.Extraction{}, err
	}
	c, err := r.Complete(ctx, Job{DocumentID: doc.ID, AttemptID: doc.AttemptID}, res.Prompt)
	if err != nil {
		return models.Extraction{}, err
	}
	return r.Assemble(ctx, doc, text, c)
}

// Load returns the document if job is still its current attempt.
func (r *Runner) Load(ctx context.Context, job Job) (models.Document, error) {
	doc, err := r.Store.Get(ctx, job.DocumentID)
	if err != nil {
		return models.Document{}, err
	}
	if doc.Status != models.StatusProcessing || doc.AttemptID != job.AttemptID {
		return models.Document{}, fmt.Errorf("attempt %s of %s: %w", job.AttemptID, job.DocumentID, util.ErrStaleAttempt)
	}
	return doc, nil
}

// ReadText fetches the source file and runs OCR under the OCR timeout. A
// document without any text is an error here: there is nothing to extract.
func (r *Runner) ReadText(ctx context.Context, doc models.Document) (ocr.Result, error) {
	local, err := r.Sources.Fetch(ctx, doc.SourceFile)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("fetch source: %w", err)
	}
	defer local.Cleanup()

	octx, cancel := context.WithTimeout(ctx, r.set.OCRTimeout)
	defer cancel()
	start := r.now()
	res, err := r.OCR.ExtractText(octx, local.Path)
	if err != nil {
		if errors.Is(octx.Err(), context.DeadlineExceeded) {
			return ocr.Result{}, fmt.Errorf("ocr timed out after %s: %w", r.set.OCRTimeout, err)
		}
		return ocr.Result{}, fmt.Errorf("ocr: %w", err)
	}
	r.Log.Info("pipeline.ocr.done",
		"document_id", doc.ID,
		"method", res.Method,
		"pages", res.Pages,
		"confidence", res.Confidence,
		"duration_ms", r.now().Sub(start).Milliseconds(),
	)
	if res.Text == "" {
		return res, errNoText
	}
	return res, nil
}

func (r *Runner) Prompt(ctx context.Context, doc models.Document, text string) (prompts.Resolution, error) {
	res, err := r.Prompts.Resolve(ctx, doc.Category, text)
	if err != nil {
		return prompts.Resolution{}, fmt.Errorf("resolve prompt: %w", err)
	}
	return res, nil
}

// Complete asks the LLM collaborator under the LLM timeout. Audit rows are
// tagged with the job.
func (r *Runner) Complete(ctx context.Context, job Job, instruction string) (providers.Completion, error) {
	lctx, cancel := context.WithTimeout(providers.WithDocument(ctx, job.DocumentID, job.AttemptID), r.set.LLMTimeout)
	defer cancel()
	c, err := r.LLM.Complete(lctx, instruction, r.set.Model)
	if err != nil {
		if errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return providers.Completion{}, fmt.Errorf("llm timed out after %s: %w", r.set.LLMTimeout, err)
		}
		return providers.Completion{}, fmt.Errorf("llm extraction failed (%s): %w", providers.ClassifyError(err), err)
	}
	return c, nil
}

// Assemble turns a model response into the typed extraction. A response that
// cannot be parsed still completes, with no fields and the review flag set.
// So does a category whose schema cannot be read: every key is left unmapped.
func (r *Runner) Assemble(ctx context.Context, doc models.Document, text ocr.Result, c providers.Completion) (models.Extraction, error) {
	aliasMap := aliases.Empty(doc.Category)
	fields, err := r.Schema.FieldsOf(doc.Category)
	if err != nil {
		r.Log.Warn("pipeline.schema_unavailable", "document_id", doc.ID, "category", doc.Category, "error", err)
		fields = nil
	} else {
		aliasMap = r.Aliases.Get(ctx, doc.Category)
	}
	schemaMissing := err != nil

	parsed := parser.Extract(c.Text)
	mapped := r.mapper.Map(parsed.Fields, aliasMap, schema.ProtectedIDs(fields))
	typed := r.conv.Convert(mapped.Fields, schema.TypesOf(fields))

	ex := models.Extraction{
		Fields:     typed.Values,
		RawText:    text.Text,
		Confidence: text.Confidence,
		Method:     text.Method,
		Diagnostics: models.Diagnostics{
			ParseStrategy:    string(parsed.Strategy),
			ParseFailed:      parsed.Failed,
			ParseAttempts:    parsed.Attempts,
			Unmapped:         mapped.Unmapped,
			DroppedProtected: mapped.Dropped,
			Conversion:       typed.Diagnostics,
			OCRWarnings:      text.Warnings,
			Pages:            text.Pages,
			Provider:         c.Provider,
			Model:            c.Model,
			SchemaMissing:    schemaMissing,
		},
	}
	if len(mapped.Suggestions) > 0 {
		ex.Diagnostics.Suggestions = mapped.Suggestions
	}
	ex.NeedsReview = parsed.Failed || schemaMissing || text.Confidence < r.set.ConfidenceThreshold
	if doc.AttemptStartedAt != nil {
		ex.ProcessingSeconds = r.now().Sub(*doc.AttemptStartedAt).Seconds()
	}

	r.Log.Info("pipeline.extracted",
		"document_id", doc.ID,
		"strategy", parsed.Strategy,
		"fields", len(ex.Fields),
		"unmapped", len(mapped.Unmapped),
		"conversion_issues", len(typed.Diagnostics),
		"needs_review", ex.NeedsReview,
	)
	r.writeArtifact(doc, c, ex)
	return ex, nil
}

// Finish persists a successful attempt, merges the typed fields into the
// policy record and notifies the owner. A superseded attempt persists nothing.
func (r *Runner) Finish(ctx context.Context, doc models.Document, attemptID string, ex models.Extraction) error {
	if err := r.Store.Complete(ctx, doc.ID, attemptID, ex, r.now()); err != nil {
		if errors.Is(err, util.ErrStaleAttempt) {
			r.Log.Info("pipeline.discarded", "document_id", doc.ID, "attempt_id", attemptID)
		}
		return err
	}
	if r.Records != nil && len(ex.Fields) > 0 {
		rec := models.PolicyRecord{DocumentID: doc.ID, Category: doc.Category, Fields: ex.Fields, UpdatedAt: r.now()}
		if err := r.Records.SaveRecord(ctx, rec); err != nil {
			r.Log.Error("pipeline.record.failed", "document_id", doc.ID, "error", err)
		}
	}
	r.Log.Info("pipeline.completed", "document_id", doc.ID, "attempt_id", attemptID, "seconds", ex.ProcessingSeconds)
	r.publish(ctx, doc, models.StatusCompleted, "Processing completed successfully", ex.ProcessingSeconds)
	return nil
}

// Abort records cause on the document and notifies the owner. It returns
// util.ErrStaleAttempt when the attempt was superseded meanwhile.
func (r *Runner) Abort(ctx context.Context, doc models.Document, attemptID string, cause error) error {
	msg := cause.Error()
	if err := r.Store.Fail(context.WithoutCancel(ctx), doc.ID, attemptID, msg, r.now()); err != nil {
		if errors.Is(err, util.ErrStaleAttempt) {
			r.Log.Info("pipeline.discarded", "document_id", doc.ID, "attempt_id", attemptID, "cause", msg)
		}
		return err
	}
	r.Log.Warn("pipeline.failed", "document_id", doc.ID, "attempt_id", attemptID, "error", msg)
	r.publish(ctx, doc, models.StatusFailed, "Processing failed: "+msg, 0)
	return nil
}

func (r *Runner) publish(ctx context.Context, doc models.Document, status models.Status, msg string, seconds float64) {
	if r.Notifier == nil {
		return
	}
	r.Notifier.Publish(ctx, notify.EventComplete, map[string]any{
		"document_id":     doc.ID,
		"status":          string(status),
		"message":         msg,
		"processing_time": seconds,
	}, doc.Owner)
}

func (r *Runner) writeArtifact(doc models.Document, c providers.Completion, ex models.Extraction) {
	if r.set.ArtifactDir == "" {
		return
	}
	path := filepath.Join(r.set.ArtifactDir, doc.ID, doc.AttemptID+".json")
	err := util.WriteJSONAtomic(path, map[string]any{
		"document_id": doc.ID,
		"attempt_id":  doc.AttemptID,
		"provider":    c.Provider,
		"model":       c.Model,
		"response":    c.Text,
		"fields":      ex.Fields,
		"diagnostics": ex.Diagnostics,
	})
	if err != nil {
		r.Log.Warn("pipeline.artifact.failed", "document_id", doc.ID, "error", err)
	}
}
