package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"policyreader/internal/aliases"
	"policyreader/internal/models"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func draft(t *testing.T, s *Store, file, category string) models.Document {
	t.Helper()
	d, err := s.Create(context.Background(), models.Document{
		ID:         uuid.NewString(),
		Title:      "policy",
		SourceFile: file,
		Category:   category,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, d.Status)
	return d
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := draft(t, s, "/tmp/a.pdf", "Motor")
	now := time.Now()

	got, err := s.BeginProcessing(ctx, d.ID, "a1", now)
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessing, got.Status)
	require.Equal(t, "a1", got.AttemptID)
	require.NotNil(t, got.ProcessingStartedAt)
	require.WithinDuration(t, now, *got.AttemptStartedAt, time.Millisecond)

	_, err = s.BeginProcessing(ctx, d.ID, "a2", now)
	require.ErrorIs(t, err, util.ErrAlreadyProcessing)

	ex := models.Extraction{
		Fields:      map[string]any{"policy_number": "ABC123"},
		RawText:     "Policy No: ABC123\x00",
		Confidence:  88,
		Method:      models.MethodPDFText,
		Diagnostics: models.Diagnostics{ParseStrategy: "DirectParse"},
	}
	require.ErrorIs(t, s.Complete(ctx, d.ID, "stale", ex, now), util.ErrStaleAttempt)
	require.NoError(t, s.Complete(ctx, d.ID, "a1", ex, now))

	got, err = s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.Equal(t, "ABC123", got.ExtractedFields["policy_number"])
	require.Equal(t, "Policy No: ABC123", got.RawText)
	require.Equal(t, "DirectParse", got.Diagnostics.ParseStrategy)
	require.NotNil(t, got.CompletedAt)

	_, err = s.BeginProcessing(ctx, d.ID, "a3", now)
	require.ErrorIs(t, err, util.ErrAlreadyCompleted)

	got, err = s.Reset(ctx, d.ID, now)
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, got.Status)
	require.Empty(t, got.ExtractedFields)
	require.Empty(t, got.AttemptID)
	require.Nil(t, got.CompletedAt)
}

func TestBeginProcessingRejectsIncompleteDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	noFile := draft(t, s, "", "Motor")
	_, err := s.BeginProcessing(ctx, noFile.ID, "a", time.Now())
	require.ErrorIs(t, err, util.ErrMissingSourceFile)

	noCategory := draft(t, s, "/tmp/a.pdf", "")
	_, err = s.BeginProcessing(ctx, noCategory.ID, "a", time.Now())
	require.ErrorIs(t, err, util.ErrMissingCategory)

	_, err = s.BeginProcessing(ctx, "missing", "a", time.Now())
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestConcurrentBeginProcessingHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := draft(t, s, "/tmp/a.pdf", "Health")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.BeginProcessing(ctx, d.ID, uuid.NewString(), time.Now())
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, util.ErrAlreadyProcessing)
	}
	require.Equal(t, 1, wins)
}

func TestRetryAndFailAreAttemptScoped(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := draft(t, s, "/tmp/a.pdf", "Motor")
	_, err := s.BeginProcessing(ctx, d.ID, "a1", time.Now())
	require.NoError(t, err)

	got, err := s.RetryProcessing(ctx, d.ID, "a1", "a2", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, got.RetryCount)
	require.Equal(t, "a2", got.AttemptID)

	_, err = s.RetryProcessing(ctx, d.ID, "a1", "a3", time.Now())
	require.ErrorIs(t, err, util.ErrStaleAttempt)

	require.ErrorIs(t, s.Fail(ctx, d.ID, "a1", "late", time.Now()), util.ErrStaleAttempt)
	require.NoError(t, s.Fail(ctx, d.ID, "a2", "ocr failed", time.Now()))

	got, err = s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "ocr failed", got.ErrorMessage)

	processing, err := s.ListProcessing(ctx)
	require.NoError(t, err)
	require.Empty(t, processing)

	// a failed document can be processed again
	_, err = s.BeginProcessing(ctx, d.ID, "a4", time.Now())
	require.NoError(t, err)
}

func TestCachesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.LoadAliasMap(ctx, "Motor")
	require.ErrorIs(t, err, util.ErrNotFound)

	built := time.Date(2024, 8, 2, 10, 0, 0, 0, time.UTC)
	m := aliases.NewMap("Motor", "fp1", []aliases.Entry{
		{Alias: "policy no", Canonical: "policy_number"},
		{Alias: "policy number", Canonical: "policy_number"},
	}, built)
	require.NoError(t, s.SaveAliasMap(ctx, m))
	loaded, err := s.LoadAliasMap(ctx, "motor")
	require.NoError(t, err)
	require.Equal(t, "fp1", loaded.Fingerprint)
	require.Equal(t, 2, loaded.Len())
	require.True(t, built.Equal(loaded.BuiltAt))

	_, err = s.LoadPrompt(ctx, "Motor")
	require.ErrorIs(t, err, util.ErrNotFound)
	tpl := prompts.Template{Category: "Motor", Head: "head", Tail: "tail", Fingerprint: "p1", SchemaFingerprint: "s1"}
	require.NoError(t, s.SavePrompt(ctx, tpl))
	tpl.Head = "head v2"
	require.NoError(t, s.SavePrompt(ctx, tpl))
	got, err := s.LoadPrompt(ctx, "Motor")
	require.NoError(t, err)
	require.Equal(t, "head v2", got.Head)
	require.Equal(t, "s1", got.SchemaFingerprint)
}

func TestSaveRecordMergesFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := draft(t, s, "/tmp/a.pdf", "Motor")

	require.NoError(t, s.SaveRecord(ctx, models.PolicyRecord{
		DocumentID: d.ID, Category: "Motor",
		Fields:    map[string]any{"policy_number": "ABC123", "insured_name": "Jane"},
		UpdatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveRecord(ctx, models.PolicyRecord{
		DocumentID: d.ID, Category: "Motor",
		Fields:    map[string]any{"insured_name": "Jane Doe"},
		UpdatedAt: time.Now(),
	}))
	rec, err := s.GetRecord(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"policy_number": "ABC123", "insured_name": "Jane Doe"}, rec.Fields)
}

func TestRecordCall(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := range 2 {
		require.NoError(t, s.RecordCall(ctx, providers.CallRecord{
			CallID:     uuid.NewString(),
			Operation:  providers.OperationExtract,
			DocumentID: "doc-1",
			Provider:   "mock",
			Status:     "ok",
			Duration:   time.Duration(i) * time.Millisecond,
		}))
	}
	n, err := s.CountCalls(ctx, "doc-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
