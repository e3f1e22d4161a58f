package models

import (
	"fmt"
	"time"
)

// Step identifies one stage of the provisioning saga
type Step int

const (
	StepNone Step = iota
	StepCreateAsset
	StepDeployContract
	StepFundContract
	StepReassignClawback
	StepDistributeSupply
	StepFinalize
)

// Steps lists every step in execution order
var Steps = []Step{
	StepCreateAsset,
	StepDeployContract,
	StepFundContract,
	StepReassignClawback,
	StepDistributeSupply,
	StepFinalize,
}

var stepNames = map[Step]string{
	StepNone:             "none",
	StepCreateAsset:      "create_asset",
	StepDeployContract:   "deploy_contract",
	StepFundContract:     "fund_contract",
	StepReassignClawback: "reassign_clawback",
	StepDistributeSupply: "distribute_supply",
	StepFinalize:         "finalize",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the step by name in JSON payloads
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a step name
func (s *Step) UnmarshalText(text []byte) error {
	for step, name := range stepNames {
		if name == string(text) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", text)
}

// Next returns the step following s, or StepNone after finalize
func (s Step) Next() Step {
	if s >= StepFinalize || s < StepNone {
		return StepNone
	}
	return s + 1
}

// WorkflowStatus is the lifecycle state of a workflow
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusSucceeded WorkflowStatus = "succeeded"
	StatusFailed    WorkflowStatus = "failed"
	StatusAmbiguous WorkflowStatus = "ambiguous"
	StatusAbandoned WorkflowStatus = "abandoned"
)

// Terminal reports whether no further step will ever run
func (s WorkflowStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusAbandoned
}

// Artifacts are the ledger resources created so far. Zero means not created.
type Artifacts struct {
	AssetID    uint64 `json:"asset_id,omitempty"`
	AppID      uint64 `json:"app_id,omitempty"`
	AppAddress string `json:"app_address,omitempty"`
}

// Workflow is the persisted cursor of one provisioning run
type Workflow struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Fingerprint    string            `json:"fingerprint"`
	Organizer      string            `json:"organizer"`
	Request        DeploymentRequest `json:"request"`

	// Completed is the last step known to have taken effect
	Completed Step           `json:"completed_step"`
	Status    WorkflowStatus `json:"status"`
	Artifacts Artifacts      `json:"artifacts"`

	// FailedStep and LastError describe the most recent failure, if any
	FailedStep Step   `json:"failed_step,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextStep returns the step a resumed run starts with
func (w *Workflow) NextStep() Step {
	return w.Completed.Next()
}

// Tag is the note attached to the workflow's asset, used for reconciliation
func (w *Workflow) Tag() string {
	return "ticketing:" + w.ID
}

// AppName is the application name the workflow deploys under
func (w *Workflow) AppName() string {
	return "ticketing-" + w.ID
}

// EventKind classifies a progress log entry
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
	EventSuccess  EventKind = "success"
)

// WorkflowEvent is one entry of a workflow's progress log
type WorkflowEvent struct {
	ID         int64     `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Kind       EventKind `json:"kind"`
	Step       Step      `json:"step"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProvisionResult is returned once every step succeeded
type ProvisionResult struct {
	WorkflowID string `json:"workflow_id"`
	AssetID    uint64 `json:"asset_id"`
	AppID      uint64 `json:"app_id"`
	AppAddress string `json:"app_address"`
}
