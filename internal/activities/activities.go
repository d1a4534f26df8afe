package activities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"policyreader/internal/models"
	"policyreader/internal/monitor"
	"policyreader/internal/pipeline"
	"policyreader/internal/providers"
	"policyreader/internal/util"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
)

// Activities exposes the pipeline steps to Temporal workers. Each step
// re-checks that its attempt still owns the document.
type Activities struct {
	runner    *pipeline.Runner
	providers *providers.Manager
	audit     providers.Auditor
	monitor   *monitor.Monitor
	log       *slog.Logger
}

func New(runner *pipeline.Runner, pm *providers.Manager, audit providers.Auditor, mon *monitor.Monitor, log *slog.Logger) *Activities {
	if log == nil {
		log = slog.Default()
	}
	return &Activities{runner: runner, providers: pm, audit: audit, monitor: mon, log: log}
}

func (a *Activities) ReadTextActivity(ctx context.Context, in DocumentInput) (ReadTextOutput, error) {
	doc, err := a.load(ctx, in.DocumentID, in.AttemptID)
	if err != nil {
		return ReadTextOutput{}, err
	}
	res, err := a.runner.ReadText(ctx, doc)
	if err != nil {
		return ReadTextOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "ReadText", nil)
	}
	return ReadTextOutput{Category: doc.Category, Text: res}, nil
}

func (a *Activities) BuildPromptActivity(ctx context.Context, in BuildPromptInput) (BuildPromptOutput, error) {
	doc, err := a.load(ctx, in.DocumentID, in.AttemptID)
	if err != nil {
		return BuildPromptOutput{}, err
	}
	res, err := a.runner.Prompt(ctx, doc, in.Text)
	if err != nil {
		return BuildPromptOutput{}, err
	}
	return BuildPromptOutput{Prompt: res.Prompt, Source: res.Source, Truncated: res.Truncated}, nil
}

// LLMGenerateActivity makes one call against one provider. Failover across
// providers is the workflow's job; the error type carries the classification.
func (a *Activities) LLMGenerateActivity(ctx context.Context, in LLMGenerateInput) (LLMGenerateOutput, error) {
	if in.ProviderRef != "" {
		if idx := a.providers.FindLLMProviderIndex(in.ProviderRef); idx >= 0 {
			in.ProviderIndex = idx
		} else {
			return LLMGenerateOutput{}, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("llm provider ref not configured in worker: %s", in.ProviderRef), string(providers.ErrorPermanent), nil)
		}
	}
	provider, ref := a.providers.LLMProviderByIndex(in.ProviderIndex)
	if err := a.providers.ProviderConfigured(in.ProviderIndex); err != nil {
		return LLMGenerateOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("llm provider %s not configured: %v", ref.Raw, err), string(providers.ErrorPermanent), nil)
	}
	op := in.Operation
	if op == "" {
		op = providers.OperationExtract
	}
	resp, info, err := provider.Generate(ctx, providers.GenerateRequest{
		Operation: op,
		Prompt:    in.Prompt,
		Model:     in.Model,
		JSON:      true,
	})
	if err != nil {
		errType := providers.ClassifyError(err)
		return LLMGenerateOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("llm generate via %s failed: %v", ref.Raw, err), string(errType), nil)
	}
	return LLMGenerateOutput{
		Text:         resp.Text,
		ProviderName: ref.Raw,
		Model:        info.Model,
	}, nil
}

func (a *Activities) LogLLMCallActivity(ctx context.Context, in LogLLMCallInput) error {
	if a.audit == nil {
		return nil
	}
	callID := in.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	return a.audit.RecordCall(ctx, providers.CallRecord{
		CallID:     callID,
		Operation:  in.Operation,
		DocumentID: in.DocumentID,
		AttemptID:  in.AttemptID,
		Provider:   in.ProviderName,
		Model:      in.Model,
		Status:     in.Status,
		ErrorType:  in.ErrorType,
		Duration:   time.Duration(in.DurationMS) * time.Millisecond,
	})
}

// FinishDocumentActivity assembles the typed extraction and completes the
// document. An extraction that cannot be assembled fails the document instead.
func (a *Activities) FinishDocumentActivity(ctx context.Context, in FinishInput) (FinishOutput, error) {
	doc, err := a.load(ctx, in.DocumentID, in.AttemptID)
	if err != nil {
		return FinishOutput{}, err
	}
	ex, err := a.runner.Assemble(ctx, doc, in.Text, in.Completion)
	if err != nil {
		if aerr := a.runner.Abort(ctx, doc, in.AttemptID, err); aerr != nil {
			return FinishOutput{}, stale(aerr)
		}
		return FinishOutput{Status: models.StatusFailed, Reason: err.Error()}, nil
	}
	if err := a.runner.Finish(ctx, doc, in.AttemptID, ex); err != nil {
		return FinishOutput{}, stale(err)
	}
	return FinishOutput{Status: models.StatusCompleted, Fields: len(ex.Fields), NeedsReview: ex.NeedsReview}, nil
}

func (a *Activities) FailDocumentActivity(ctx context.Context, in FailInput) error {
	doc, err := a.load(ctx, in.DocumentID, in.AttemptID)
	if err != nil {
		return err
	}
	return stale(a.runner.Abort(ctx, doc, in.AttemptID, errors.New(in.Reason)))
}

func (a *Activities) SweepStuckDocumentsActivity(ctx context.Context) (SweepOutput, error) {
	if a.monitor == nil {
		return SweepOutput{}, temporal.NewNonRetryableApplicationError("stuck-document monitor not configured", "Config", nil)
	}
	rep, err := a.monitor.Sweep(ctx)
	if err != nil {
		return SweepOutput{Report: rep}, err
	}
	a.log.Info("activities.sweep",
		"scanned", rep.Scanned,
		"retried", len(rep.Retried),
		"failed", len(rep.Failed),
		"errors", len(rep.Errors),
	)
	return SweepOutput{Report: rep}, nil
}

func (a *Activities) load(ctx context.Context, documentID, attemptID string) (models.Document, error) {
	doc, err := a.runner.Load(ctx, pipeline.Job{DocumentID: documentID, AttemptID: attemptID})
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return models.Document{}, temporal.NewNonRetryableApplicationError(err.Error(), "NotFound", nil)
		}
		return models.Document{}, stale(err)
	}
	return doc, nil
}

// stale turns util.ErrStaleAttempt into a non-retryable error workflows can
// recognise; other errors pass through. Application errors carry no cause so
// their message is the whole failure text.
func stale(err error) error {
	if err != nil && errors.Is(err, util.ErrStaleAttempt) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeStaleAttempt, nil)
	}
	return err
}
