package workflows

import (
	"context"
	"sync"
	"testing"

	"policyreader/internal/activities"
	"policyreader/internal/models"
	"policyreader/internal/monitor"
	"policyreader/internal/ocr"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

type fakeActivities struct {
	mu        sync.Mutex
	readErr   error
	llm       func(in activities.LLMGenerateInput) (activities.LLMGenerateOutput, error)
	finishOut activities.FinishOutput
	llmCalls  []int
	logged    []activities.LogLLMCallInput
	failed    []activities.FailInput
	finished  []activities.FinishInput
}

func (f *fakeActivities) register(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "ReadTextActivity", func(_ context.Context, in activities.DocumentInput) (activities.ReadTextOutput, error) {
		if f.readErr != nil {
			return activities.ReadTextOutput{}, f.readErr
		}
		return activities.ReadTextOutput{Category: "Motor", Text: ocr.Result{Text: "Policy No: P-1", Confidence: 91, Pages: 1, Method: models.MethodPDFText}}, nil
	})
	registerActivityName(env, "BuildPromptActivity", func(_ context.Context, in activities.BuildPromptInput) (activities.BuildPromptOutput, error) {
		return activities.BuildPromptOutput{Prompt: "extract: " + in.Text, Source: "built"}, nil
	})
	registerActivityName(env, "LLMGenerateActivity", func(_ context.Context, in activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		f.mu.Lock()
		f.llmCalls = append(f.llmCalls, in.ProviderIndex)
		f.mu.Unlock()
		if f.llm != nil {
			return f.llm(in)
		}
		return activities.LLMGenerateOutput{Text: `{"Policy No":"P-1"}`, ProviderName: "mock", Model: "mock-1"}, nil
	})
	registerActivityName(env, "LogLLMCallActivity", func(_ context.Context, in activities.LogLLMCallInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logged = append(f.logged, in)
		return nil
	})
	registerActivityName(env, "FinishDocumentActivity", func(_ context.Context, in activities.FinishInput) (activities.FinishOutput, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.finished = append(f.finished, in)
		if f.finishOut.Status == "" {
			return activities.FinishOutput{Status: models.StatusCompleted, Fields: 1}, nil
		}
		return f.finishOut, nil
	})
	registerActivityName(env, "FailDocumentActivity", func(_ context.Context, in activities.FailInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.failed = append(f.failed, in)
		return nil
	})
}

func runDocument(t *testing.T, f *fakeActivities, input DocumentProcessInput) (string, models.Progress) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentProcessWorkflow)
	f.register(env)

	if input.DocumentID == "" {
		input.DocumentID = "doc-1"
		input.AttemptID = "att-1"
	}
	env.ExecuteWorkflow(DocumentProcessWorkflow, input)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))

	val, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var p models.Progress
	require.NoError(t, val.Get(&p))
	return out, p
}

func providerError(errType, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, nil)
}

func TestDocumentProcessWorkflowSuccess(t *testing.T) {
	f := &fakeActivities{}
	out, p := runDocument(t, f, DocumentProcessInput{ProviderOrder: []int{0}})
	require.Equal(t, ResultCompleted, out)
	require.Equal(t, "done", p.Step)
	require.Equal(t, string(models.StatusCompleted), p.Status)
	require.Equal(t, "mock", p.Provider)
	for _, step := range []string{"read_text", "build_prompt", "llm_extract", "finish"} {
		require.Equal(t, "done", p.Steps[step], step)
	}

	require.Len(t, f.finished, 1)
	require.Equal(t, "att-1", f.finished[0].AttemptID)
	require.Equal(t, `{"Policy No":"P-1"}`, f.finished[0].Completion.Text)
	require.Equal(t, 91.0, f.finished[0].Text.Confidence)
	require.Len(t, f.logged, 1)
	require.Equal(t, "ok", f.logged[0].Status)
	require.Empty(t, f.failed)
}

func TestDocumentProcessWorkflowFailsOverOnQuota(t *testing.T) {
	f := &fakeActivities{llm: func(in activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		if in.ProviderIndex == 2 {
			return activities.LLMGenerateOutput{}, providerError("quota", "llm generate via groq failed: insufficient_quota")
		}
		return activities.LLMGenerateOutput{Text: "{}", ProviderName: "gemini", Model: "gemini-2.0-flash"}, nil
	}}
	out, p := runDocument(t, f, DocumentProcessInput{ProviderOrder: []int{2, 0}})
	require.Equal(t, ResultCompleted, out)
	require.Equal(t, []int{2, 0}, f.llmCalls)
	require.Equal(t, "gemini", p.Provider)
	require.Equal(t, 1, p.RetryCounts["llm-2"])

	require.Len(t, f.logged, 2)
	require.Equal(t, "failed", f.logged[0].Status)
	require.Equal(t, "quota", f.logged[0].ErrorType)
	require.Equal(t, "ok", f.logged[1].Status)
}

func TestDocumentProcessWorkflowRateLimitBacksOffThenFails(t *testing.T) {
	f := &fakeActivities{llm: func(activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, providerError("rate", "llm generate via openai failed: 429")
	}}
	out, p := runDocument(t, f, DocumentProcessInput{ProviderOrder: []int{0}, LLMTimeoutSeconds: 120})
	require.Equal(t, ResultFailed, out)
	require.Equal(t, []int{0, 0, 0}, f.llmCalls)
	require.Equal(t, "failed", p.Steps["llm_extract"])

	require.Len(t, f.failed, 1)
	require.Contains(t, f.failed[0].Reason, "llm extraction failed (rate)")
	require.Empty(t, f.finished)
}

func TestDocumentProcessWorkflowContextErrorStopsFailover(t *testing.T) {
	f := &fakeActivities{llm: func(activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, providerError("context", "prompt too long")
	}}
	out, _ := runDocument(t, f, DocumentProcessInput{ProviderOrder: []int{0, 1}})
	require.Equal(t, ResultFailed, out)
	require.Equal(t, []int{0}, f.llmCalls)
	require.Len(t, f.failed, 1)
	require.Contains(t, f.failed[0].Reason, "llm extraction failed (context): ")
	require.Contains(t, f.failed[0].Reason, "prompt too long")
}

func TestDocumentProcessWorkflowLLMBudget(t *testing.T) {
	f := &fakeActivities{llm: func(activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, providerError("rate", "rate limit")
	}}
	out, _ := runDocument(t, f, DocumentProcessInput{ProviderOrder: []int{0}, LLMTimeoutSeconds: 3})
	require.Equal(t, ResultFailed, out)
	// 2s backoff leaves 1s; the 4s backoff after the second call spends it.
	require.Equal(t, []int{0, 0}, f.llmCalls)
	require.Equal(t, "llm timed out after 3s", f.failed[0].Reason)
}

func TestDocumentProcessWorkflowOCRFailure(t *testing.T) {
	f := &fakeActivities{readErr: temporal.NewNonRetryableApplicationError("no text extracted from document", "ReadText", nil)}
	out, p := runDocument(t, f, DocumentProcessInput{})
	require.Equal(t, ResultFailed, out)
	require.Equal(t, "read_text", p.Step)
	require.Equal(t, "failed", p.Steps["read_text"])
	require.Contains(t, p.Message, "no text extracted from document")

	require.Len(t, f.failed, 1)
	require.Equal(t, "doc-1", f.failed[0].DocumentID)
	require.Equal(t, "att-1", f.failed[0].AttemptID)
	require.Contains(t, f.failed[0].Reason, "no text extracted from document")
	require.Empty(t, f.llmCalls)
}

func TestDocumentProcessWorkflowSupersededAttempt(t *testing.T) {
	f := &fakeActivities{readErr: temporal.NewNonRetryableApplicationError("processing attempt was superseded", activities.ErrTypeStaleAttempt, nil)}
	out, p := runDocument(t, f, DocumentProcessInput{})
	require.Equal(t, ResultSuperseded, out)
	require.Equal(t, ResultSuperseded, p.Status)
	require.Empty(t, f.failed)
	require.Empty(t, f.finished)
}

func TestDocumentProcessWorkflowAssembleFailure(t *testing.T) {
	f := &fakeActivities{finishOut: activities.FinishOutput{Status: models.StatusFailed, Reason: "unknown category"}}
	out, p := runDocument(t, f, DocumentProcessInput{})
	require.Equal(t, ResultFailed, out)
	require.Equal(t, "unknown category", p.Message)
	require.Empty(t, f.failed)
}

func TestStuckDocumentMonitorWorkflow(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(StuckDocumentMonitorWorkflow)
	registerActivityName(env, "SweepStuckDocumentsActivity", func(context.Context) (activities.SweepOutput, error) {
		return activities.SweepOutput{Report: monitor.Report{Scanned: 3, Retried: []string{"d1"}, Failed: []string{"d2"}}}, nil
	})

	env.ExecuteWorkflow(StuckDocumentMonitorWorkflow)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activities.SweepOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, 3, out.Report.Scanned)
	require.Equal(t, []string{"d1"}, out.Report.Retried)
	require.Equal(t, []string{"d2"}, out.Report.Failed)
}
