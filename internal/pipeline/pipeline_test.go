package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyreader/internal/aliases"
	"policyreader/internal/models"
	"policyreader/internal/notify"
	"policyreader/internal/ocr"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/schema"
	"policyreader/internal/sources"
	"policyreader/internal/storage/sqlite"
	"policyreader/internal/util"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeOCR struct {
	res   ocr.Result
	err   error
	block bool
}

func (f fakeOCR) ExtractText(ctx context.Context, _ string) (ocr.Result, error) {
	if f.block {
		<-ctx.Done()
		return ocr.Result{}, ctx.Err()
	}
	return f.res, f.err
}

type scriptedLLM struct {
	text       string
	err        error
	configured error
}

func (s scriptedLLM) Complete(context.Context, string, string) (providers.Completion, error) {
	if s.err != nil {
		return providers.Completion{}, s.err
	}
	return providers.Completion{Text: s.text, Provider: "scripted", Model: "test"}, nil
}

func (s scriptedLLM) Configured() error { return s.configured }

type published struct {
	event     string
	payload   map[string]any
	addressee string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(_ context.Context, event string, payload map[string]any, addressee string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{event, payload, addressee})
}

func (n *recordingNotifier) all() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.events...)
}

// heldDispatcher accepts jobs without running them.
type heldDispatcher struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (d *heldDispatcher) Dispatch(_ context.Context, job Job) (Handle, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return &task{job: job, done: make(chan struct{})}, nil
}

type harness struct {
	store    *sqlite.Store
	runner   *Runner
	service  *Service
	notifier *recordingNotifier
	pool     *Pool
	file     string
}

type harnessOpts struct {
	ocr        TextExtractor
	llm        Completer
	dispatcher Dispatcher
	settings   Settings
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlite.Open(ctx, filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	file := filepath.Join(dir, "policy.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF-1.4"), 0o644))

	reg := schema.NewRegistry()
	reg.Register(schema.Definition{Category: "Sample", Fields: []schema.Field{
		{Label: "Policy No", ID: "policy_number", Type: schema.TypeData},
		{Label: "Premium", ID: "premium", Type: schema.TypeCurrency},
		{Label: "Customer Code", ID: "customer_code", Type: schema.TypeData, Protected: true},
	}})
	dict := aliases.NewDictionary(aliases.NewBuilder(reg, quiet), store, time.Hour, quiet)

	if o.llm == nil {
		m := providers.NewManagerWith(providers.NamedLLMProvider{
			Ref:      providers.ProviderRef{Raw: "mock", Name: "mock"},
			Provider: providers.NewMockProvider(),
		}).AllowMock(true)
		o.llm = providers.NewCompleter(m, store, 0, quiet)
	}
	h := &harness{store: store, notifier: &recordingNotifier{}, file: file}
	h.runner = NewRunner(Deps{
		Store:    store,
		Records:  store,
		Sources:  sources.NewResolver(dir, quiet),
		OCR:      o.ocr,
		Prompts:  prompts.NewResolver(reg, dict, store, 0, quiet),
		Aliases:  dict,
		Schema:   reg,
		LLM:      o.llm,
		Notifier: h.notifier,
		Log:      quiet,
	}, o.settings)
	if o.dispatcher == nil {
		h.pool = NewPool(h.runner.Run, 2, 8, quiet)
		t.Cleanup(func() { h.pool.Close(context.Background()) })
		o.dispatcher = h.pool
	}
	h.service = NewService(store, sources.NewResolver(dir, quiet), o.llm, o.dispatcher, quiet)
	return h
}

func (h *harness) draft(t *testing.T, file, category string) models.Document {
	t.Helper()
	d, err := h.store.Create(context.Background(), models.Document{
		ID:         uuid.NewString(),
		Owner:      "agent@example.com",
		Title:      "policy",
		SourceFile: file,
		Category:   category,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	return d
}

func (h *harness) process(t *testing.T, id string) (models.Document, error) {
	t.Helper()
	handle, err := h.service.Request(context.Background(), id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runErr := handle.Wait(ctx)
	doc, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return doc, runErr
}

func textResult(text string, conf float64) ocr.Result {
	return ocr.Result{Text: text, Confidence: conf, Pages: 1, Method: models.MethodTesseract}
}

func TestProcessLabelledPolicyToTypedRecord(t *testing.T) {
	h := newHarness(t, harnessOpts{ocr: fakeOCR{res: textResult("Policy No: ABC123, Premium: ₹12,345.00", 92)}})
	d := h.draft(t, h.file, "Sample")

	doc, err := h.process(t, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, doc.Status)
	require.Equal(t, "ABC123", doc.ExtractedFields["policy_number"])
	premium, err := decimal.NewFromString(doc.ExtractedFields["premium"].(string))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("12345.00").Equal(premium))
	require.False(t, doc.NeedsReview)
	require.Equal(t, "DirectParse", doc.Diagnostics.ParseStrategy)
	require.Equal(t, "mock", doc.Diagnostics.Provider)
	require.Equal(t, models.MethodTesseract, doc.ProcessingMethod)
	require.NotNil(t, doc.CompletedAt)

	rec, err := h.store.GetRecord(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "ABC123", rec.Fields["policy_number"])

	calls, err := h.store.CountCalls(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventComplete, events[0].event)
	assert.Equal(t, "agent@example.com", events[0].addressee)
	assert.Equal(t, "Completed", events[0].payload["status"])
}

func TestUnparsableResponseCompletesForReview(t *testing.T) {
	h := newHarness(t, harnessOpts{
		ocr: fakeOCR{res: textResult("Some scanned policy text", 95)},
		llm: scriptedLLM{text: "I could not find any fields."},
	})
	d := h.draft(t, h.file, "Sample")

	doc, err := h.process(t, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, doc.Status)
	require.Empty(t, doc.ExtractedFields)
	require.True(t, doc.NeedsReview)
	require.True(t, doc.Diagnostics.ParseFailed)
	require.Equal(t, "Unparsable", doc.Diagnostics.ParseStrategy)
}

func TestConfidenceThresholdBoundary(t *testing.T) {
	for conf, review := range map[float64]bool{69.9: true, 70.0: false} {
		h := newHarness(t, harnessOpts{
			ocr: fakeOCR{res: textResult("Policy No: X1", conf)},
			llm: scriptedLLM{text: `{"Policy No":"X1"}`},
		})
		d := h.draft(t, h.file, "Sample")
		doc, err := h.process(t, d.ID)
		require.NoError(t, err)
		require.Equal(t, review, doc.NeedsReview, "confidence %v", conf)
		require.Equal(t, conf, doc.Confidence)
	}
}

func TestProtectedFieldsAreNeverWritten(t *testing.T) {
	h := newHarness(t, harnessOpts{
		ocr: fakeOCR{res: textResult("policy", 90)},
		llm: scriptedLLM{text: "```json\n{\"Policy No\":\"X1\",\"customer_code\":\"C-9\",\"Colour\":\"Red\"}\n```"},
	})
	d := h.draft(t, h.file, "Sample")
	doc, err := h.process(t, d.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"policy_number": "X1"}, doc.ExtractedFields)
	require.NotContains(t, doc.ExtractedFields, "customer_code")
	require.Equal(t, []string{"Colour", "customer_code"}, doc.Diagnostics.Unmapped)
	require.Equal(t, "FencedBlockParse", doc.Diagnostics.ParseStrategy)
}

func TestUnknownCategoryCompletesUnmapped(t *testing.T) {
	h := newHarness(t, harnessOpts{
		ocr: fakeOCR{res: textResult("Marine cargo policy M-77", 93)},
		llm: scriptedLLM{text: `{"PolicyNumber":"M-77","Vessel":"Aurora"}`},
	})
	d := h.draft(t, h.file, "Marine")

	doc, err := h.process(t, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, doc.Status)
	require.Empty(t, doc.ExtractedFields)
	require.Equal(t, []string{"PolicyNumber", "Vessel"}, doc.Diagnostics.Unmapped)
	require.True(t, doc.Diagnostics.SchemaMissing)
	require.False(t, doc.Diagnostics.ParseFailed)
	require.True(t, doc.NeedsReview)
	require.Empty(t, doc.ErrorMessage)
}

func TestRequestGates(t *testing.T) {
	ctx := context.Background()
	held := &heldDispatcher{}
	h := newHarness(t, harnessOpts{ocr: fakeOCR{}, llm: scriptedLLM{}, dispatcher: held})

	_, err := h.service.Request(ctx, "missing")
	require.ErrorIs(t, err, util.ErrNotFound)

	noFile := h.draft(t, "", "Sample")
	_, err = h.service.Request(ctx, noFile.ID)
	require.ErrorIs(t, err, util.ErrMissingSourceFile)

	noCategory := h.draft(t, h.file, "")
	_, err = h.service.Request(ctx, noCategory.ID)
	require.ErrorIs(t, err, util.ErrMissingCategory)

	gone := h.draft(t, filepath.Join(t.TempDir(), "gone.pdf"), "Sample")
	_, err = h.service.Request(ctx, gone.ID)
	require.ErrorIs(t, err, util.ErrSourceUnreadable)

	ok := h.draft(t, h.file, "Sample")
	_, err = h.service.Request(ctx, ok.ID)
	require.NoError(t, err)
	_, err = h.service.Request(ctx, ok.ID)
	require.ErrorIs(t, err, util.ErrAlreadyProcessing)
	require.Len(t, held.jobs, 1)

	for _, d := range []models.Document{noFile, noCategory, gone} {
		got, err := h.store.Get(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusDraft, got.Status)
	}
}

func TestRequestWithoutCredentialsIsRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{
		ocr:        fakeOCR{},
		llm:        scriptedLLM{configured: errors.New("OPENAI_API_KEY is not set")},
		dispatcher: &heldDispatcher{},
	})
	d := h.draft(t, h.file, "Sample")
	_, err := h.service.Request(context.Background(), d.ID)
	require.ErrorIs(t, err, util.ErrNotConfigured)
}

func TestCompletedDocumentNeedsReset(t *testing.T) {
	h := newHarness(t, harnessOpts{ocr: fakeOCR{res: textResult("Policy No: A1", 90)}})
	d := h.draft(t, h.file, "Sample")
	_, err := h.process(t, d.ID)
	require.NoError(t, err)

	_, err = h.service.Request(context.Background(), d.ID)
	require.ErrorIs(t, err, util.ErrAlreadyCompleted)

	doc, err := h.service.Reset(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, doc.Status)
	require.Empty(t, doc.ExtractedFields)

	doc, err = h.process(t, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, doc.Status)
}

func TestConcurrentRequestsStartOneAttempt(t *testing.T) {
	held := &heldDispatcher{}
	h := newHarness(t, harnessOpts{ocr: fakeOCR{}, llm: scriptedLLM{}, dispatcher: held})
	d := h.draft(t, h.file, "Sample")

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.service.Request(context.Background(), d.ID)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, util.ErrAlreadyProcessing)
		}
	}
	require.Equal(t, 1, wins)
	require.Len(t, held.jobs, 1)
}

func TestSupersededAttemptIsDiscarded(t *testing.T) {
	ctx := context.Background()
	held := &heldDispatcher{}
	h := newHarness(t, harnessOpts{
		ocr:        fakeOCR{res: textResult("Policy No: OLD", 90)},
		llm:        scriptedLLM{text: `{"Policy No":"OLD"}`},
		dispatcher: held,
	})
	d := h.draft(t, h.file, "Sample")

	_, err := h.service.Request(ctx, d.ID)
	require.NoError(t, err)
	first := held.jobs[0]
	stale, err := h.runner.Load(ctx, first)
	require.NoError(t, err)

	_, err = h.service.Reset(ctx, d.ID)
	require.NoError(t, err)
	_, err = h.service.Request(ctx, d.ID)
	require.NoError(t, err)
	second := held.jobs[1]

	require.ErrorIs(t, h.runner.Run(ctx, first), util.ErrStaleAttempt)
	err = h.runner.Finish(ctx, stale, first.AttemptID, models.Extraction{Fields: map[string]any{"policy_number": "OLD"}})
	require.ErrorIs(t, err, util.ErrStaleAttempt)
	require.ErrorIs(t, h.runner.Abort(ctx, stale, first.AttemptID, errors.New("late failure")), util.ErrStaleAttempt)

	doc, err := h.store.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, doc.Status)
	require.Equal(t, second.AttemptID, doc.AttemptID)
	require.Empty(t, doc.ExtractedFields)
	require.Empty(t, h.notifier.all())

	require.NoError(t, h.runner.Run(ctx, second))
}

func TestOCRFailureFailsDocument(t *testing.T) {
	h := newHarness(t, harnessOpts{ocr: fakeOCR{err: errors.New("pdftoppm: exit status 1")}})
	d := h.draft(t, h.file, "Sample")

	doc, err := h.process(t, d.ID)
	require.Error(t, err)
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "pdftoppm")
	require.Empty(t, doc.ExtractedFields)

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventComplete, events[0].event)
	assert.Equal(t, "Failed", events[0].payload["status"])

	// a failed document may be requested again
	_, err = h.service.Request(context.Background(), d.ID)
	require.NoError(t, err)
}

func TestOCRTimeoutFailsDocument(t *testing.T) {
	h := newHarness(t, harnessOpts{
		ocr:      fakeOCR{block: true},
		settings: Settings{OCRTimeout: 20 * time.Millisecond},
	})
	d := h.draft(t, h.file, "Sample")
	doc, err := h.process(t, d.ID)
	require.Error(t, err)
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "ocr timed out")
}

func TestEmptyTextFailsDocument(t *testing.T) {
	h := newHarness(t, harnessOpts{ocr: fakeOCR{res: textResult("", 0)}})
	d := h.draft(t, h.file, "Sample")
	doc, err := h.process(t, d.ID)
	require.ErrorIs(t, err, errNoText)
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Equal(t, errNoText.Error(), doc.ErrorMessage)
}

func TestLLMFailureIsClassified(t *testing.T) {
	callErr := &providers.CallError{Provider: "openai", Type: providers.ErrorQuota, Err: errors.New("insufficient_quota")}
	h := newHarness(t, harnessOpts{
		ocr: fakeOCR{res: textResult("Policy No: A1", 90)},
		llm: scriptedLLM{err: callErr},
	})
	d := h.draft(t, h.file, "Sample")
	doc, err := h.process(t, d.ID)
	require.ErrorIs(t, err, util.ErrQuotaExhausted)
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "(quota)")
}

func TestDispatchFailureLeavesNothingProcessing(t *testing.T) {
	h := newHarness(t, harnessOpts{ocr: fakeOCR{}, llm: scriptedLLM{}, dispatcher: &heldDispatcher{err: ErrQueueFull}})
	d := h.draft(t, h.file, "Sample")
	_, err := h.service.Request(context.Background(), d.ID)
	require.ErrorIs(t, err, ErrQueueFull)

	doc, err := h.store.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Contains(t, doc.ErrorMessage, "dispatch failed")
}

func TestArtifactIsWritten(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, harnessOpts{
		ocr:      fakeOCR{res: textResult("Policy No: A1", 90)},
		settings: Settings{ArtifactDir: dir},
	})
	d := h.draft(t, h.file, "Sample")
	doc, err := h.process(t, d.ID)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, d.ID, doc.AttemptID+".json"))
	require.NoError(t, err)
}
