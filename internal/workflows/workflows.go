package workflows

import (
	"errors"
	"fmt"
	"time"

	"policyreader/internal/activities"
	"policyreader/internal/models"
	"policyreader/internal/providers"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

type providerState struct {
	disabledUntil map[int]time.Time
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}}
}

// errLLMDeadline ends failover once the LLM budget of the attempt is spent.
var errLLMDeadline = errors.New("llm deadline exceeded")

// DocumentProcessWorkflow runs one processing attempt. Every outcome is
// recorded on the document by an activity; a superseded attempt records
// nothing.
func DocumentProcessWorkflow(ctx workflow.Context, input DocumentProcessInput) (string, error) {
	progress := models.Progress{
		DocumentID:  input.DocumentID,
		AttemptID:   input.AttemptID,
		Step:        "init",
		Status:      string(models.StatusProcessing),
		Steps:       map[string]string{},
		RetryCounts: map[string]int{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (models.Progress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	ocrTimeout := durationOrDefault(input.OCRTimeoutSeconds, 180)
	llmTimeout := durationOrDefault(input.LLMTimeoutSeconds, 120)
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	doc := activities.DocumentInput{DocumentID: input.DocumentID, AttemptID: input.AttemptID}

	fail := func(reason string) (string, error) {
		progress.Steps[progress.Step] = "failed"
		progress.Message = reason
		err := workflow.ExecuteActivity(ctx, "FailDocumentActivity", activities.FailInput{
			DocumentID: input.DocumentID,
			AttemptID:  input.AttemptID,
			Reason:     reason,
		}).Get(ctx, nil)
		if err != nil {
			if isStale(err) {
				return supersede(&progress)
			}
			return "", err
		}
		progress.Status = string(models.StatusFailed)
		return ResultFailed, nil
	}

	beginStep(&progress, "read_text")
	octx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ocrTimeout + 30*time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var textOut activities.ReadTextOutput
	if err := workflow.ExecuteActivity(octx, "ReadTextActivity", doc).Get(ctx, &textOut); err != nil {
		switch {
		case isStale(err):
			return supersede(&progress)
		case isTimeout(err):
			return fail(fmt.Sprintf("ocr timed out after %s", ocrTimeout))
		}
		return fail(errorMessage(err))
	}
	progress.Steps[progress.Step] = "done"

	beginStep(&progress, "build_prompt")
	var promptOut activities.BuildPromptOutput
	if err := workflow.ExecuteActivity(ctx, "BuildPromptActivity", activities.BuildPromptInput{
		DocumentID: input.DocumentID,
		AttemptID:  input.AttemptID,
		Text:       textOut.Text.Text,
	}).Get(ctx, &promptOut); err != nil {
		if isStale(err) {
			return supersede(&progress)
		}
		return fail(errorMessage(err))
	}
	progress.Steps[progress.Step] = "done"

	beginStep(&progress, "llm_extract")
	state := newProviderState()
	llmOut, errType, err := callLLMWithFailover(ctx, &state, input.ProviderOrder, cooldown, llmTimeout, activities.LLMGenerateInput{
		Operation:  providers.OperationExtract,
		DocumentID: input.DocumentID,
		AttemptID:  input.AttemptID,
		Prompt:     promptOut.Prompt,
		Model:      input.Model,
	}, progress.RetryCounts)
	if err != nil {
		switch {
		case isStale(err):
			return supersede(&progress)
		case errors.Is(err, errLLMDeadline):
			return fail(fmt.Sprintf("llm timed out after %s", llmTimeout))
		}
		return fail(fmt.Sprintf("llm extraction failed (%s): %s", errType, errorMessage(err)))
	}
	progress.Provider = llmOut.ProviderName
	progress.Steps[progress.Step] = "done"

	beginStep(&progress, "finish")
	var finishOut activities.FinishOutput
	if err := workflow.ExecuteActivity(ctx, "FinishDocumentActivity", activities.FinishInput{
		DocumentID: input.DocumentID,
		AttemptID:  input.AttemptID,
		Text:       textOut.Text,
		Completion: providers.Completion{Text: llmOut.Text, Provider: llmOut.ProviderName, Model: llmOut.Model},
	}).Get(ctx, &finishOut); err != nil {
		if isStale(err) {
			return supersede(&progress)
		}
		return "", err
	}
	if finishOut.Status == models.StatusFailed {
		progress.Steps[progress.Step] = "failed"
		progress.Status = string(models.StatusFailed)
		progress.Message = finishOut.Reason
		return ResultFailed, nil
	}
	progress.Steps[progress.Step] = "done"
	progress.Step = "done"
	progress.Status = string(models.StatusCompleted)
	return ResultCompleted, nil
}

// StuckDocumentMonitorWorkflow runs one sweep; workers schedule it as a cron
// workflow.
func StuckDocumentMonitorWorkflow(ctx workflow.Context) (activities.SweepOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    2,
		},
	})
	var out activities.SweepOutput
	if err := workflow.ExecuteActivity(ctx, "SweepStuckDocumentsActivity").Get(ctx, &out); err != nil {
		return out, err
	}
	workflow.GetLogger(ctx).Info("stuck document sweep",
		"scanned", out.Report.Scanned,
		"retried", len(out.Report.Retried),
		"failed", len(out.Report.Failed),
	)
	return out, nil
}

// callLLMWithFailover walks order until a provider answers. Quota errors bench
// a provider for cooldown, rate limits back off twice before a two minute
// bench, and context-length errors end the search. The whole search shares
// one budget.
func callLLMWithFailover(ctx workflow.Context, state *providerState, order []int, cooldown, budget time.Duration, input activities.LLMGenerateInput, retryCounts map[string]int) (activities.LLMGenerateOutput, string, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	if len(order) == 0 {
		order = []int{0}
	}
	deadline := workflow.Now(ctx).Add(budget)
	var lastErr error
	for attempt := 0; attempt < len(order)*4; attempt++ {
		idx := order[attempt%len(order)]
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		remaining := deadline.Sub(workflow.Now(ctx))
		if remaining <= 0 {
			return activities.LLMGenerateOutput{}, string(providers.ErrorTransient), errLLMDeadline
		}
		actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: remaining,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
		})
		input.ProviderIndex = idx
		start := workflow.Now(ctx)
		var out activities.LLMGenerateOutput
		err := workflow.ExecuteActivity(actx, "LLMGenerateActivity", input).Get(ctx, &out)
		elapsed := workflow.Now(ctx).Sub(start).Milliseconds()
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, DocumentID: input.DocumentID, AttemptID: input.AttemptID, ProviderName: out.ProviderName, Model: out.Model, Status: "ok", DurationMS: elapsed}).Get(ctx, nil)
			return out, "", nil
		}
		lastErr = err
		if isTimeout(err) {
			return activities.LLMGenerateOutput{}, string(providers.ErrorTransient), errLLMDeadline
		}
		errType := llmErrorType(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, DocumentID: input.DocumentID, AttemptID: input.AttemptID, ProviderName: fmt.Sprintf("provider-%d", idx), Status: "failed", ErrorType: string(errType), DurationMS: elapsed}).Get(ctx, nil)
		key := fmt.Sprintf("llm-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			}
		case providers.ErrorContext:
			return activities.LLMGenerateOutput{}, string(providers.ErrorContext), err
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
		return activities.LLMGenerateOutput{}, string(providers.ErrorTransient), lastErr
	}
	return activities.LLMGenerateOutput{}, string(llmErrorType(lastErr)), lastErr
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func beginStep(p *models.Progress, step string) {
	p.Step = step
	p.Steps[step] = "processing"
}

func supersede(p *models.Progress) (string, error) {
	p.Steps[p.Step] = "superseded"
	p.Status = ResultSuperseded
	return ResultSuperseded, nil
}

// llmErrorType reads the classification LLMGenerateActivity put on its error.
func llmErrorType(err error) providers.ErrorType {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch t := providers.ErrorType(appErr.Type()); t {
		case providers.ErrorQuota, providers.ErrorRate, providers.ErrorTransient, providers.ErrorPermanent, providers.ErrorContext:
			return t
		}
	}
	return providers.ClassifyError(err)
}

func isStale(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == activities.ErrTypeStaleAttempt
}

func isTimeout(err error) bool {
	var timeoutErr *temporal.TimeoutError
	return errors.As(err, &timeoutErr)
}

// errorMessage strips the activity wrapping so documents carry the cause.
func errorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
