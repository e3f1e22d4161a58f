package storage

import (
	"context"
	"errors"

	"provisioner/internal/models"
)

var (
	// ErrNotFound is returned when a workflow does not exist
	ErrNotFound = errors.New("workflow not found")
	// ErrDuplicateKey is returned when a workflow with the same idempotency key exists
	ErrDuplicateKey = errors.New("idempotency key already used")
)

// WorkflowFilter narrows ListWorkflows and CountWorkflows
type WorkflowFilter struct {
	Organizer string
	Status    models.WorkflowStatus
}

// Repository defines the interface for all storage operations
type Repository interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	SaveWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	GetWorkflowByKey(ctx context.Context, idempotencyKey string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter, limit, offset int) ([]*models.Workflow, error)
	CountWorkflows(ctx context.Context, filter WorkflowFilter) (int, error)

	// Progress log
	SaveWorkflowEvent(ctx context.Context, event *models.WorkflowEvent) error
	ListWorkflowEvents(ctx context.Context, workflowID string, limit, offset int) ([]models.WorkflowEvent, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
