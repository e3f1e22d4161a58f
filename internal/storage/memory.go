package storage

import (
	"context"
	"sort"
	"sync"

	"provisioner/internal/models"
)

// MemoryRepository implements Repository in process. Used by the CLI and tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	keys      map[string]string // idempotency key -> workflow id
	events    map[string][]models.WorkflowEvent
	nextEvent int64
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*models.Workflow),
		keys:      make(map[string]string),
		events:    make(map[string][]models.WorkflowEvent),
	}
}

func (r *MemoryRepository) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[wf.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	r.workflows[wf.ID] = copyWorkflow(wf)
	r.keys[wf.IdempotencyKey] = wf.ID
	return nil
}

func (r *MemoryRepository) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.workflows[wf.ID]
	if !ok {
		return ErrNotFound
	}
	// Identity and request are immutable after creation
	stored.Completed = wf.Completed
	stored.Status = wf.Status
	stored.Artifacts = wf.Artifacts
	stored.FailedStep = wf.FailedStep
	stored.LastError = wf.LastError
	stored.UpdatedAt = wf.UpdatedAt
	return nil
}

func (r *MemoryRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(wf), nil
}

func (r *MemoryRepository) GetWorkflowByKey(ctx context.Context, idempotencyKey string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	return copyWorkflow(r.workflows[id]), nil
}

func (r *MemoryRepository) ListWorkflows(ctx context.Context, filter WorkflowFilter, limit, offset int) ([]*models.Workflow, error) {
	matched := r.match(filter)

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	return page(matched, limit, offset), nil
}

func (r *MemoryRepository) CountWorkflows(ctx context.Context, filter WorkflowFilter) (int, error) {
	return len(r.match(filter)), nil
}

func (r *MemoryRepository) SaveWorkflowEvent(ctx context.Context, event *models.WorkflowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[event.WorkflowID]; !ok {
		return ErrNotFound
	}
	r.nextEvent++
	event.ID = r.nextEvent
	r.events[event.WorkflowID] = append(r.events[event.WorkflowID], *event)
	return nil
}

func (r *MemoryRepository) ListWorkflowEvents(ctx context.Context, workflowID string, limit, offset int) ([]models.WorkflowEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return page(append([]models.WorkflowEvent(nil), r.events[workflowID]...), limit, offset), nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) match(filter WorkflowFilter) []*models.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Workflow
	for _, wf := range r.workflows {
		if filter.Organizer != "" && wf.Organizer != filter.Organizer {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	return out
}

func copyWorkflow(wf *models.Workflow) *models.Workflow {
	cp := *wf
	// The signer is never persisted
	cp.Request.Signer = nil
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
