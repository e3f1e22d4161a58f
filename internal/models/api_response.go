package models

import (
	"time"
)

// ProvisionRequest is the body of POST /events
type ProvisionRequest struct {
	DeploymentRequest
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ProvisionResponse is returned when a workflow succeeded
type ProvisionResponse struct {
	ProvisionResult
	Summary string `json:"summary"`
}

// WorkflowResponse represents a workflow with its on-ledger state
type WorkflowResponse struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         WorkflowStatus `json:"status"`
	CompletedStep  Step           `json:"completed_step"`
	FailedStep     Step           `json:"failed_step,omitempty"`
	LastError      string         `json:"last_error,omitempty"`

	Request   DeploymentRequest `json:"request"`
	Artifacts Artifacts         `json:"artifacts"`

	// Live ledger view, present when the artifact exists
	Asset    *ProvisionedAsset    `json:"asset,omitempty"`
	Contract *ProvisionedContract `json:"contract,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowSummary represents a workflow in list views
type WorkflowSummary struct {
	ID            string         `json:"id"`
	EventName     string         `json:"event_name"`
	Organizer     string         `json:"organizer"`
	Status        WorkflowStatus `json:"status"`
	CompletedStep Step           `json:"completed_step"`
	Artifacts     Artifacts      `json:"artifacts"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// WorkflowListResponse represents a paginated list of workflows
type WorkflowListResponse struct {
	Workflows []WorkflowSummary `json:"workflows"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// EventsResponse represents a workflow's progress log
type EventsResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Events     []WorkflowEvent `json:"events"`
	Total      int             `json:"total"`
}

// StepFailureResponse is returned when a step failed or its outcome is unknown
type StepFailureResponse struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	WorkflowID string    `json:"workflow_id"`
	Step       Step      `json:"step"`
	Outcome    string    `json:"outcome"` // failed or ambiguous
	Artifacts  Artifacts `json:"artifacts"`
}

// ValidationErrorResponse lists every violated rule
type ValidationErrorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}
