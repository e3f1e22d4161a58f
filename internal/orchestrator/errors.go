package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"provisioner/internal/ledger"
	"provisioner/internal/models"
)

var (
	// ErrIdempotencyConflict is returned when an idempotency key is reused for a different request
	ErrIdempotencyConflict = errors.New("idempotency key was used for a different request")
	// ErrBusy is returned when another invocation holds the organizer's lease
	ErrBusy = errors.New("another provisioning workflow is running for this organizer")
	// ErrWorkflowAbandoned is returned when resuming an abandoned workflow
	ErrWorkflowAbandoned = errors.New("workflow was abandoned")
	// ErrWorkflowSucceeded is returned when abandoning a finished workflow
	ErrWorkflowSucceeded = errors.New("workflow already succeeded")
	// ErrLeaseLost is returned when the organizer lease could not be renewed
	// before a step. The cursor is left to whoever holds the lease now.
	ErrLeaseLost = errors.New("organizer lease was lost")
)

// ValidationError lists every rule a request violates. No ledger call was made.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid deployment request: " + strings.Join(e.Violations, "; ")
}

// Outcome tells whether a failed step may still have taken effect
type Outcome string

const (
	// OutcomeFailed means the step definitely did not take effect
	OutcomeFailed Outcome = "failed"
	// OutcomeAmbiguous means the step may have landed on the ledger
	OutcomeAmbiguous Outcome = "ambiguous"
)

// StepError reports the step a workflow stopped at and what already exists
type StepError struct {
	WorkflowID string
	Step       models.Step
	Artifacts  models.Artifacts
	Outcome    Outcome
	Cause      error
}

func newStepError(wf *models.Workflow, step models.Step, cause error) *StepError {
	outcome := OutcomeFailed
	if ledger.IsAmbiguous(cause) {
		outcome = OutcomeAmbiguous
	}
	return &StepError{
		WorkflowID: wf.ID,
		Step:       step,
		Artifacts:  wf.Artifacts,
		Outcome:    outcome,
		Cause:      cause,
	}
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) %s: %v", int(e.Step), e.Step, e.Outcome, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Ambiguous reports whether the failed call may have landed
func (e *StepError) Ambiguous() bool {
	return e.Outcome == OutcomeAmbiguous
}

// Report renders a single message for an operator: what succeeded, what
// failed and which ledger resources already exist
func (e *StepError) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Event provisioning stopped at step %d (%s): %v.", int(e.Step), e.Step, e.Cause)

	var done []string
	for _, step := range models.Steps {
		if step >= e.Step {
			break
		}
		done = append(done, step.String())
	}
	if len(done) > 0 {
		fmt.Fprintf(&b, " Completed: %s.", strings.Join(done, ", "))
	} else {
		b.WriteString(" No step completed.")
	}

	var created []string
	if e.Artifacts.AssetID != 0 {
		created = append(created, fmt.Sprintf("asset %d", e.Artifacts.AssetID))
	}
	if e.Artifacts.AppID != 0 {
		created = append(created, fmt.Sprintf("application %d (%s)", e.Artifacts.AppID, e.Artifacts.AppAddress))
	}
	if len(created) > 0 {
		fmt.Fprintf(&b, " Already on the ledger: %s.", strings.Join(created, ", "))
	}

	if e.Ambiguous() {
		b.WriteString(" The outcome of this step is unknown; resuming checks the ledger before retrying it.")
	} else {
		b.WriteString(" Nothing was rolled back.")
	}
	fmt.Fprintf(&b, " Resume or abandon workflow %s.", e.WorkflowID)

	return b.String()
}
