package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"provisioner/internal/models"
	"provisioner/internal/storage"
)

// Progress describes a completed step
type Progress struct {
	WorkflowID string
	Step       models.Step
	Completed  int
	Total      int
	Message    string
}

// Reporter receives notifications for display. Calls are synchronous and
// made from the provisioning goroutine.
type Reporter interface {
	OnProgress(p Progress)
	OnError(message string)
	OnSuccess(summary string, result *models.ProvisionResult)
}

// ReporterFuncs adapts plain functions to Reporter; nil fields are ignored
type ReporterFuncs struct {
	Progress func(p Progress)
	Error    func(message string)
	Success  func(summary string, result *models.ProvisionResult)
}

func (f ReporterFuncs) OnProgress(p Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f ReporterFuncs) OnError(message string) {
	if f.Error != nil {
		f.Error(message)
	}
}

func (f ReporterFuncs) OnSuccess(summary string, result *models.ProvisionResult) {
	if f.Success != nil {
		f.Success(summary, result)
	}
}

// Nop discards every notification
var Nop Reporter = ReporterFuncs{}

// journal forwards notifications and appends them to the workflow's progress log
type journal struct {
	ctx  context.Context
	repo storage.Repository
	wf   *models.Workflow
	next Reporter
	now  func() time.Time
}

func (j *journal) record(kind models.EventKind, step models.Step, message string) {
	event := &models.WorkflowEvent{
		WorkflowID: j.wf.ID,
		Kind:       kind,
		Step:       step,
		Message:    message,
		CreatedAt:  j.now(),
	}
	// The log is best effort; a lost entry must not fail the workflow
	if err := j.repo.SaveWorkflowEvent(context.WithoutCancel(j.ctx), event); err != nil {
		slog.Warn("Failed to record workflow event", "workflow_id", j.wf.ID, "kind", kind, "error", err)
	}
}

func (j *journal) OnProgress(p Progress) {
	j.record(models.EventProgress, p.Step, p.Message)
	j.next.OnProgress(p)
}

func (j *journal) OnError(message string) {
	j.record(models.EventError, j.wf.FailedStep, message)
	j.next.OnError(message)
}

func (j *journal) OnSuccess(summary string, result *models.ProvisionResult) {
	j.record(models.EventSuccess, models.StepFinalize, summary)
	j.next.OnSuccess(summary, result)
}
