package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/lock"
	"provisioner/internal/metrics"
	"provisioner/internal/models"
)

// completion tells how a step reached its target state
type completion string

const (
	applied    completion = "applied"    // the step submitted its operation
	reconciled completion = "reconciled" // an earlier attempt had already landed
	skipped    completion = "skipped"    // the ledger already satisfied the step
)

// execution is the state of one invocation over a workflow
type execution struct {
	wf       *models.Workflow
	req      *models.DeploymentRequest
	signer   ledger.Signer
	reporter Reporter
	result   *models.ProvisionResult
}

// step is one ensure operation of the saga
type step struct {
	id     models.Step
	ensure func(ctx context.Context, ex *execution) (completion, error)
	done   func(ex *execution) string
}

func (o *Orchestrator) steps() []step {
	return []step{
		{models.StepCreateAsset, o.ensureAsset, func(ex *execution) string {
			return fmt.Sprintf("Ticket asset %d ready", ex.wf.Artifacts.AssetID)
		}},
		{models.StepDeployContract, o.ensureContract, func(ex *execution) string {
			return fmt.Sprintf("Contract %d deployed at %s", ex.wf.Artifacts.AppID, ex.wf.Artifacts.AppAddress)
		}},
		{models.StepFundContract, o.ensureFunded, func(ex *execution) string {
			return fmt.Sprintf("Contract account funded with at least %d", o.cfg.FundingReserve)
		}},
		{models.StepReassignClawback, o.ensureClawback, func(ex *execution) string {
			return "Clawback authority moved to the contract"
		}},
		{models.StepDistributeSupply, o.ensureCustody, func(ex *execution) string {
			return fmt.Sprintf("%d tickets held by the %s", ex.req.SeatCount, o.cfg.Custody)
		}},
		{models.StepFinalize, o.finalize, func(ex *execution) string {
			return "Event is live"
		}},
	}
}

// run executes every step after the cursor. Must hold the organizer lease;
// it is renewed before each step so that it outlives the step's timeout.
func (o *Orchestrator) run(ctx context.Context, lease lock.Lease, wf *models.Workflow, signer ledger.Signer, reporter Reporter) (*models.ProvisionResult, error) {
	metrics.WorkflowsStarted.Inc()
	metrics.WorkflowsInFlight.Inc()
	defer metrics.WorkflowsInFlight.Dec()

	rep := &journal{ctx: ctx, repo: o.repo, wf: wf, next: reporter, now: o.now}
	ex := &execution{wf: wf, req: &wf.Request, signer: signer, reporter: rep}

	wf.Status = models.StatusRunning
	if err := o.save(ctx, wf); err != nil {
		return nil, err
	}

	steps := o.steps()
	for _, s := range steps {
		if s.id <= wf.Completed {
			continue
		}

		if err := o.renew(ctx, lease, wf, s.id); err != nil {
			rep.next.OnError(err.Error())
			return nil, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		start := time.Now()
		how, err := s.ensure(stepCtx, ex)
		cancel()
		metrics.StepDuration.WithLabelValues(s.id.String()).Observe(time.Since(start).Seconds())

		if err != nil {
			return nil, o.fail(ctx, ex, s.id, err)
		}

		metrics.StepsCompleted.WithLabelValues(s.id.String(), string(how)).Inc()
		slog.Info("Step completed",
			"workflow_id", wf.ID,
			"step", s.id,
			"mode", how,
		)

		wf.Completed = s.id
		wf.FailedStep = models.StepNone
		wf.LastError = ""
		if s.id == models.StepFinalize {
			wf.Status = models.StatusSucceeded
		}
		if err := o.save(ctx, wf); err != nil {
			// The step took effect; a resume will find it through reconciliation
			return nil, err
		}

		rep.OnProgress(Progress{
			WorkflowID: wf.ID,
			Step:       s.id,
			Completed:  int(s.id),
			Total:      len(steps),
			Message:    s.done(ex),
		})
	}

	metrics.WorkflowOutcomes.WithLabelValues(string(models.StatusSucceeded)).Inc()
	if ex.result == nil {
		ex.result = resultOf(wf)
	}
	rep.OnSuccess(o.summary(ex.req, ex.result), ex.result)

	slog.Info("✅ Event provisioned",
		"workflow_id", wf.ID,
		"asset_id", ex.result.AssetID,
		"app_id", ex.result.AppID,
		"app_address", ex.result.AppAddress,
	)
	return ex.result, nil
}

// renew extends the organizer lease ahead of a step. A lost lease stops the
// run without touching the stored cursor.
func (o *Orchestrator) renew(ctx context.Context, lease lock.Lease, wf *models.Workflow, next models.Step) error {
	err := lease.Refresh(ctx, o.cfg.LockTTL)
	if err == nil {
		return nil
	}

	metrics.ErrorsTotal.WithLabelValues("orchestrator").Inc()
	slog.Error("❌ Failed to renew organizer lease",
		"workflow_id", wf.ID,
		"key", lease.Key(),
		"next_step", next,
		"error", err,
	)
	if errors.Is(err, lock.ErrLost) {
		return fmt.Errorf("%w before step %d (%s) of workflow %s", ErrLeaseLost, int(next), next, wf.ID)
	}
	return fmt.Errorf("failed to renew organizer lease before step %d (%s): %w", int(next), next, err)
}

// fail records a step failure on the cursor and reports it
func (o *Orchestrator) fail(ctx context.Context, ex *execution, id models.Step, cause error) error {
	wf := ex.wf
	stepErr := newStepError(wf, id, cause)

	wf.Status = models.StatusFailed
	if stepErr.Ambiguous() {
		wf.Status = models.StatusAmbiguous
	}
	wf.FailedStep = id
	wf.LastError = cause.Error()

	metrics.StepFailures.WithLabelValues(id.String(), string(stepErr.Outcome)).Inc()
	metrics.ErrorsTotal.WithLabelValues("orchestrator").Inc()
	metrics.WorkflowOutcomes.WithLabelValues(string(wf.Status)).Inc()
	slog.Error("❌ Step failed",
		"workflow_id", wf.ID,
		"step", id,
		"outcome", stepErr.Outcome,
		"asset_id", wf.Artifacts.AssetID,
		"app_id", wf.Artifacts.AppID,
		"error", cause,
	)

	if err := o.save(ctx, wf); err != nil {
		slog.Error("Failed to persist step failure", "workflow_id", wf.ID, "error", err)
	}
	ex.reporter.OnError(stepErr.Report())
	return stepErr
}
