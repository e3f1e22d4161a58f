package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/ledger/memory"
	"provisioner/internal/lock"
	"provisioner/internal/metrics"
	"provisioner/internal/models"
	"provisioner/internal/orchestrator"
	"provisioner/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler   http.Handler
	ledger    *memory.Ledger
	organizer *keypair.Full
}

func newTestServer(t *testing.T, funds uint64) *testServer {
	t.Helper()

	cfg := orchestrator.DefaultConfig()
	cfg.StepTimeout = 5 * time.Second

	ts := &testServer{
		ledger:    memory.New(memory.DefaultConfig(network.TestNetworkPassphrase)),
		organizer: keypair.MustRandom(),
	}
	ts.ledger.Fund(ts.organizer.Address(), funds)

	repo := storage.NewMemoryRepository()
	orch := orchestrator.New(cfg, ts.ledger, repo, lock.NewLocalLocker())
	keyring := ledger.Keyring{ts.organizer.Address(): ts.organizer}

	ts.handler = NewServer(0, orch, repo, keyring).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) body(key string) map[string]any {
	body := map[string]any{
		"event_name":     "Spring Gala",
		"seat_count":     200,
		"unit_price":     2_500_000,
		"sale_start":     "2027-01-15T19:00:00Z",
		"per_wallet_cap": 2,
		"organizer":      ts.organizer.Address(),
	}
	if key != "" {
		body["idempotency_key"] = key
	}
	return body
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestProvision_Created(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	rec := ts.do(t, http.MethodPost, "/events", ts.body("gala-2027"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[models.ProvisionResponse](t, rec)
	assert.NotEmpty(t, resp.WorkflowID)
	assert.NotZero(t, resp.AssetID)
	assert.NotZero(t, resp.AppID)
	assert.Equal(t, ledger.ApplicationAddress(resp.AppID), resp.AppAddress)
	assert.Contains(t, resp.Summary, "2.500000 ALGO")

	// Replaying the same key returns the stored result without new submissions
	before := len(ts.ledger.Calls())
	again := ts.do(t, http.MethodPost, "/events", ts.body("gala-2027"))
	require.Equal(t, http.StatusCreated, again.Code, again.Body.String())
	assert.Equal(t, resp.ProvisionResult, decode[models.ProvisionResponse](t, again).ProvisionResult)
	assert.Len(t, ts.ledger.Calls(), before)

	// Same key with different content is a conflict
	changed := ts.body("gala-2027")
	changed["seat_count"] = 300
	conflict := ts.do(t, http.MethodPost, "/events", changed)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestProvision_ValidationFailure(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	body := ts.body("")
	body["seat_count"] = 0
	body["per_wallet_cap"] = 0

	rec := ts.do(t, http.MethodPost, "/events", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode[models.ValidationErrorResponse](t, rec)
	assert.Equal(t, []string{
		"seat count must be at least 1",
		"per-wallet cap must be at least 1",
	}, resp.Violations)
	assert.Empty(t, ts.ledger.Calls())
}

func TestProvision_UnknownOrganizer(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	body := ts.body("")
	body["organizer"] = keypair.MustRandom().Address()

	rec := ts.do(t, http.MethodPost, "/events", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"a signing capability must be bound"},
		decode[models.ValidationErrorResponse](t, rec).Violations)
}

func TestProvision_BadBodies(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	fractional := ts.body("")
	fractional["seat_count"] = 2.5
	rec := ts.do(t, http.MethodPost, "/events", fractional)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, []string{"seat_count must be an integer"},
		decode[models.ValidationErrorResponse](t, rec).Violations)

	rec = ts.do(t, http.MethodPost, "/events", `{"event_name": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/events", `{"venue": "Hall"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProvision_StepFailureThenResume(t *testing.T) {
	ts := newTestServer(t, 600_000)

	rec := ts.do(t, http.MethodPost, "/events", ts.body(""))
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	failure := decode[models.StepFailureResponse](t, rec)
	assert.Equal(t, "step_failed", failure.Error)
	assert.Equal(t, "failed", failure.Outcome)
	assert.Equal(t, models.StepFundContract, failure.Step)
	assert.Contains(t, failure.Message, "Resume or abandon workflow "+failure.WorkflowID)
	assert.NotZero(t, failure.Artifacts.AppID)

	wf := ts.do(t, http.MethodGet, "/workflows/"+failure.WorkflowID, nil)
	require.Equal(t, http.StatusOK, wf.Code)
	view := decode[models.WorkflowResponse](t, wf)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, models.StepDeployContract, view.CompletedStep)
	require.NotNil(t, view.Asset)
	require.NotNil(t, view.Contract)
	assert.Equal(t, failure.Artifacts.AppID, view.Contract.AppID)

	ts.ledger.Fund(ts.organizer.Address(), 10_000_000)

	resumed := ts.do(t, http.MethodPost, "/workflows/"+failure.WorkflowID+"/resume", nil)
	require.Equal(t, http.StatusOK, resumed.Code, resumed.Body.String())
	result := decode[models.ProvisionResponse](t, resumed)
	assert.Equal(t, failure.Artifacts.AssetID, result.AssetID)
	assert.Equal(t, failure.Artifacts.AppID, result.AppID)

	// Resuming a finished workflow replays its result; abandoning it is refused
	replay := ts.do(t, http.MethodPost, "/workflows/"+failure.WorkflowID+"/resume", nil)
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, result.ProvisionResult, decode[models.ProvisionResponse](t, replay).ProvisionResult)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/workflows/"+failure.WorkflowID+"/abandon", nil).Code)
}

func TestAbandon(t *testing.T) {
	ts := newTestServer(t, 600_000)

	rec := ts.do(t, http.MethodPost, "/events", ts.body(""))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	id := decode[models.StepFailureResponse](t, rec).WorkflowID

	abandoned := ts.do(t, http.MethodPost, "/workflows/"+id+"/abandon", nil)
	require.Equal(t, http.StatusOK, abandoned.Code, abandoned.Body.String())
	assert.Equal(t, models.StatusAbandoned, decode[models.WorkflowResponse](t, abandoned).Status)

	assert.Empty(t, ts.ledger.Applications())
	assert.Empty(t, ts.ledger.Assets())
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/workflows/"+id+"/resume", nil).Code)
}

func TestListWorkflowsAndEvents(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	for i := 0; i < 3; i++ {
		body := ts.body(fmt.Sprintf("event-%d", i))
		body["event_name"] = fmt.Sprintf("Show %d", i)
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/events", body).Code)
	}

	rec := ts.do(t, http.MethodGet, "/workflows?limit=2&organizer="+ts.organizer.Address(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.WorkflowListResponse](t, rec)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, 2, list.Limit)
	assert.Len(t, list.Workflows, 2)
	for _, wf := range list.Workflows {
		assert.Equal(t, models.StatusSucceeded, wf.Status)
		assert.Equal(t, models.StepFinalize, wf.CompletedStep)
	}

	rec = ts.do(t, http.MethodGet, "/workflows?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[models.WorkflowListResponse](t, rec).Total)

	id := list.Workflows[0].ID
	rec = ts.do(t, http.MethodGet, "/workflows/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[models.EventsResponse](t, rec)
	require.NotEmpty(t, events.Events)
	last := events.Events[len(events.Events)-1]
	assert.Equal(t, models.EventSuccess, last.Kind)
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/events", http.StatusMethodNotAllowed},
		{http.MethodPost, "/workflows", http.StatusMethodNotAllowed},
		{http.MethodGet, "/workflows/", http.StatusBadRequest},
		{http.MethodGet, "/workflows/missing", http.StatusNotFound},
		{http.MethodGet, "/workflows/missing/events", http.StatusNotFound},
		{http.MethodPost, "/workflows/missing/resume", http.StatusNotFound},
		{http.MethodGet, "/workflows/missing/resume", http.StatusMethodNotAllowed},
		{http.MethodGet, "/workflows/missing/retry", http.StatusNotFound},
		{http.MethodGet, "/workflows/a/b/c", http.StatusNotFound},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestIndex_ListsSigners(t *testing.T) {
	ts := newTestServer(t, 10_000_000)

	rec := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), ts.organizer.Address()))
}

func TestTypeViolation(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"seat_count": 2.5}`, "seat_count must be an integer"},
		{`{"per_wallet_cap": "two"}`, "per_wallet_cap must be an integer"},
		{`{"event_name": 7}`, "event_name must be a string"},
		{`{"idempotency_key": false}`, "idempotency_key must be a string"},
	}

	for _, tt := range tests {
		var body models.ProvisionRequest
		msg, ok := typeViolation(json.Unmarshal([]byte(tt.body), &body))
		require.True(t, ok, tt.body)
		assert.Equal(t, tt.want, msg)
	}

	_, ok := typeViolation(errors.New("unexpected EOF"))
	assert.False(t, ok)
}

func TestSendWorkflowError(t *testing.T) {
	s := &Server{}

	tests := []struct {
		err  error
		code int
	}{
		{orchestrator.ErrBusy, http.StatusConflict},
		{fmt.Errorf("%w before step 3 (fund_contract)", orchestrator.ErrLeaseLost), http.StatusConflict},
		{fmt.Errorf("failed to load workflow w1: %w", storage.ErrNotFound), http.StatusNotFound},
		{&orchestrator.ValidationError{Violations: []string{"seat count must be at least 1"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.sendWorkflowError(rec, tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}

	before := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("api"))
	rec := httptest.NewRecorder()
	s.sendWorkflowError(rec, errors.New("connection reset by peer"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset", "internal errors are not leaked")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("api")))
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query         string
		limit, offset int
	}{
		{"", 50, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=500", 50, 0},
		{"limit=-1&offset=-5", 50, 0},
		{"limit=abc", 50, 0},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/workflows?"+tt.query, nil)
		limit, offset := parsePagination(req.URL.Query())
		assert.Equal(t, tt.limit, limit, tt.query)
		assert.Equal(t, tt.offset, offset, tt.query)
	}
}
