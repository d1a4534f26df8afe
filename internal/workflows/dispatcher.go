package workflows

import (
	"context"
	"errors"
	"fmt"

	"policyreader/internal/models"
	"policyreader/internal/pipeline"
	"policyreader/internal/util"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

const MonitorWorkflowID = "policy-stuck-document-monitor"

// WorkflowID names the workflow of one processing attempt.
func WorkflowID(job pipeline.Job) string {
	return fmt.Sprintf("policy-doc-%s-%s", job.DocumentID, job.AttemptID)
}

// Dispatcher starts one DocumentProcessWorkflow per attempt.
type Dispatcher struct {
	client    tclient.Client
	taskQueue string
	defaults  DocumentProcessInput
}

// NewDispatcher returns a Dispatcher whose workflows start from defaults
// (provider order, cooldown, timeouts, model) with the job filled in.
func NewDispatcher(c tclient.Client, taskQueue string, defaults DocumentProcessInput) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue, defaults: defaults}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job pipeline.Job) (pipeline.Handle, error) {
	input := d.defaults
	input.DocumentID = job.DocumentID
	input.AttemptID = job.AttemptID
	input.ProviderOrder = append([]int(nil), d.defaults.ProviderOrder...)
	run, err := d.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:        WorkflowID(job),
		TaskQueue: d.taskQueue,
	}, DocumentProcessWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	return runHandle{run: run}, nil
}

// Progress queries the running workflow of job.
func (d *Dispatcher) Progress(ctx context.Context, job pipeline.Job) (models.Progress, error) {
	resp, err := d.client.QueryWorkflow(ctx, WorkflowID(job), "", QueryGetProgress)
	if err != nil {
		return models.Progress{}, err
	}
	var p models.Progress
	if err := resp.Get(&p); err != nil {
		return models.Progress{}, err
	}
	return p, nil
}

type runHandle struct {
	run tclient.WorkflowRun
}

func (h runHandle) ID() string { return h.run.GetID() }

func (h runHandle) Wait(ctx context.Context) error {
	var result string
	if err := h.run.Get(ctx, &result); err != nil {
		return err
	}
	switch result {
	case ResultFailed:
		return util.ErrProcessingFailed
	case ResultSuperseded:
		return util.ErrStaleAttempt
	}
	return nil
}

// EnsureMonitor starts the stuck-document cron workflow unless it is already
// running.
func EnsureMonitor(ctx context.Context, c tclient.Client, taskQueue, schedule string) error {
	_, err := c.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                    MonitorWorkflowID,
		TaskQueue:             taskQueue,
		CronSchedule:          schedule,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, StuckDocumentMonitorWorkflow)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return err
}
