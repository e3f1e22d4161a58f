package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"provisioner/internal/metrics"
	"provisioner/internal/models"
	"provisioner/internal/orchestrator"
	"provisioner/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "Event Provisioner",
		"version":     "1.0.0",
		"description": "Provisions ticketed events on a public ledger",
		"signers":     s.keyring.Addresses(),
		"endpoints": map[string]string{
			"GET /":                        "This page - Service information",
			"GET /health":                  "Health check endpoint",
			"GET /metrics":                 "Prometheus metrics for monitoring",
			"POST /events":                 "Provision a ticketed event (optional idempotency_key)",
			"GET /workflows":               "List workflows (supports ?organizer=, ?status=, ?limit=, ?offset=)",
			"GET /workflows/{id}":          "Get a workflow with the live state of its ledger artifacts",
			"GET /workflows/{id}/events":   "Get the progress log of a workflow",
			"POST /workflows/{id}/resume":  "Resume a failed or interrupted workflow",
			"POST /workflows/{id}/abandon": "Abandon a workflow and clean up its artifacts",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.repository.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   "event-provisioner",
	}

	s.sendJSON(w, code, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// PROVISIONING ENDPOINTS
// =============================================================================

// handleProvision runs a provisioning workflow
// POST /events
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var body models.ProvisionRequest
	if err := decodeRequest(r, &body); err != nil {
		if msg, ok := typeViolation(err); ok {
			s.sendJSON(w, http.StatusUnprocessableEntity, models.ValidationErrorResponse{
				Error:      "validation_failed",
				Violations: []string{msg},
			})
			return
		}
		s.sendError(w, fmt.Sprintf("Malformed request body: %v", err), http.StatusBadRequest)
		return
	}

	req := body.DeploymentRequest
	req.Signer = s.keyring.Signer(req.Organizer)

	// A dropped client must not interrupt a saga mid-step
	ctx := context.WithoutCancel(r.Context())

	var out capture
	result, err := s.orchestrator.Provision(ctx, &req, orchestrator.Options{IdempotencyKey: body.IdempotencyKey}, out.reporter())
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, models.ProvisionResponse{ProvisionResult: *result, Summary: out.summary})
}

// handleResume resumes a stored workflow
// POST /workflows/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, workflowID string) {
	wf, err := s.orchestrator.Workflow(r.Context(), workflowID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	var out capture
	result, err := s.orchestrator.Resume(ctx, workflowID, s.keyring.Signer(wf.Organizer), out.reporter())
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, models.ProvisionResponse{ProvisionResult: *result, Summary: out.summary})
}

// handleAbandon abandons a workflow and cleans up its artifacts
// POST /workflows/{id}/abandon
func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request, workflowID string) {
	wf, err := s.orchestrator.Workflow(r.Context(), workflowID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	abandoned, err := s.orchestrator.Abandon(ctx, workflowID, s.keyring.Signer(wf.Organizer))
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, BuildWorkflowResponse(&orchestrator.Snapshot{Workflow: abandoned}))
}

// =============================================================================
// WORKFLOW ENDPOINTS
// =============================================================================

// handleListWorkflows lists workflows with optional filtering
// GET /workflows?organizer=GXXX...&status=failed&limit=50&offset=0
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit, offset := parsePagination(query)
	filter := storage.WorkflowFilter{
		Organizer: query.Get("organizer"),
		Status:    models.WorkflowStatus(query.Get("status")),
	}

	// Get total count
	total, err := s.repository.CountWorkflows(ctx, filter)
	if err != nil {
		slog.Error("Failed to count workflows", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	workflows, err := s.repository.ListWorkflows(ctx, filter, limit, offset)
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	summaries := make([]models.WorkflowSummary, len(workflows))
	for i, wf := range workflows {
		summaries[i] = BuildWorkflowSummary(wf)
	}

	s.sendJSON(w, http.StatusOK, models.WorkflowListResponse{
		Workflows: summaries,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// handleGetWorkflow returns a workflow with the live state of its artifacts
// GET /workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request, workflowID string) {
	snap, err := s.orchestrator.Inspect(r.Context(), workflowID)
	if err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, BuildWorkflowResponse(snap))
}

// handleGetWorkflowEvents returns the progress log of a workflow
// GET /workflows/{id}/events
func (s *Server) handleGetWorkflowEvents(w http.ResponseWriter, r *http.Request, workflowID string) {
	ctx := r.Context()

	if _, err := s.repository.GetWorkflow(ctx, workflowID); err != nil {
		s.sendWorkflowError(w, err)
		return
	}

	limit, offset := parsePagination(r.URL.Query())
	events, err := s.repository.ListWorkflowEvents(ctx, workflowID, limit, offset)
	if err != nil {
		slog.Error("Failed to get events", "workflow_id", workflowID, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.WorkflowEvent{}
	}

	s.sendJSON(w, http.StatusOK, models.EventsResponse{
		WorkflowID: workflowID,
		Events:     events,
		Total:      len(events),
	})
}

// capture records the success summary of a run
type capture struct {
	summary string
}

func (c *capture) reporter() orchestrator.Reporter {
	return orchestrator.ReporterFuncs{
		Success: func(summary string, _ *models.ProvisionResult) { c.summary = summary },
	}
}

// sendWorkflowError maps orchestrator errors to HTTP responses
func (s *Server) sendWorkflowError(w http.ResponseWriter, err error) {
	var verr *orchestrator.ValidationError
	var stepErr *orchestrator.StepError

	switch {
	case errors.As(err, &verr):
		s.sendJSON(w, http.StatusUnprocessableEntity, models.ValidationErrorResponse{
			Error:      "validation_failed",
			Violations: verr.Violations,
		})
	case errors.As(err, &stepErr):
		code := http.StatusBadGateway
		if stepErr.Ambiguous() {
			code = http.StatusGatewayTimeout
		}
		s.sendJSON(w, code, models.StepFailureResponse{
			Error:      "step_" + string(stepErr.Outcome),
			Message:    stepErr.Report(),
			WorkflowID: stepErr.WorkflowID,
			Step:       stepErr.Step,
			Outcome:    string(stepErr.Outcome),
			Artifacts:  stepErr.Artifacts,
		})
	case errors.Is(err, storage.ErrNotFound):
		s.sendError(w, "Workflow not found", http.StatusNotFound)
	case errors.Is(err, orchestrator.ErrIdempotencyConflict),
		errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrLeaseLost),
		errors.Is(err, orchestrator.ErrWorkflowAbandoned),
		errors.Is(err, orchestrator.ErrWorkflowSucceeded):
		s.sendError(w, err.Error(), http.StatusConflict)
	default:
		metrics.ErrorsTotal.WithLabelValues("api").Inc()
		slog.Error("Workflow request failed", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// sendJSON writes v with the given status
func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}
