package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"provisioner/internal/models"
	"provisioner/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// decodeRequest decodes a JSON body, rejecting unknown fields
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// typeViolation turns a mistyped field, e.g. a fractional seat count, into a
// violation message
func typeViolation(err error) (string, bool) {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return "", false
	}
	// Field is a dotted path that may start at the enclosing struct type
	field := typeErr.Field
	field = field[strings.LastIndex(field, ".")+1:]
	return fmt.Sprintf("%s must be %s", field, describeKind(typeErr.Type.Kind().String())), true
}

func describeKind(kind string) string {
	switch kind {
	case "int64", "int":
		return "an integer"
	case "string":
		return "a string"
	case "struct":
		return "an RFC 3339 timestamp"
	default:
		return "a " + kind
	}
}

// parsePagination reads limit (1-100, default 50) and offset (default 0)
func parsePagination(query url.Values) (int, int) {
	limit := 50 // default
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// BuildWorkflowResponse creates a full workflow response
func BuildWorkflowResponse(snap *orchestrator.Snapshot) models.WorkflowResponse {
	wf := snap.Workflow
	return models.WorkflowResponse{
		ID:             wf.ID,
		IdempotencyKey: wf.IdempotencyKey,
		Status:         wf.Status,
		CompletedStep:  wf.Completed,
		FailedStep:     wf.FailedStep,
		LastError:      wf.LastError,
		Request:        wf.Request,
		Artifacts:      wf.Artifacts,
		Asset:          snap.Asset,
		Contract:       snap.Contract,
		CreatedAt:      wf.CreatedAt,
		UpdatedAt:      wf.UpdatedAt,
	}
}

// BuildWorkflowSummary creates a summary for list views
func BuildWorkflowSummary(wf *models.Workflow) models.WorkflowSummary {
	return models.WorkflowSummary{
		ID:            wf.ID,
		EventName:     wf.Request.EventName,
		Organizer:     wf.Organizer,
		Status:        wf.Status,
		CompletedStep: wf.Completed,
		Artifacts:     wf.Artifacts,
		UpdatedAt:     wf.UpdatedAt,
	}
}
