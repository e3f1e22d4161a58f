// Package orchestrator drives the event provisioning saga. Each step is an
// idempotent "ensure" against the ledger and the workflow cursor is persisted
// after every step, so an interrupted run can be resumed or abandoned.
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
	"provisioner/internal/storage"
	"provisioner/internal/validation"

	"github.com/google/uuid"
)

// CustodyPolicy decides where the ticket supply ends up in step 5
type CustodyPolicy string

const (
	// CustodyOrganizer keeps the supply with the organizer as holder of record
	CustodyOrganizer CustodyPolicy = "organizer"
	// CustodyContract moves the supply into the contract's account
	CustodyContract CustodyPolicy = "contract"
)

// Config holds the orchestrator's explicit settings
type Config struct {
	Network           string
	FundingReserve    uint64
	DefaultSaleWindow time.Duration
	StepTimeout       time.Duration
	LockTTL           time.Duration
	Custody           CustodyPolicy
	SchemaVersion     uint32
	UnitName          string
	Currency          string
	CurrencyDecimals  int32
}

// DefaultConfig returns the settings the service ships with
func DefaultConfig() Config {
	return Config{
		Network:           "devnet",
		FundingReserve:    500_000,
		DefaultSaleWindow: 30 * 24 * time.Hour,
		StepTimeout:       60 * time.Second,
		LockTTL:           10 * time.Minute,
		Custody:           CustodyOrganizer,
		SchemaVersion:     1,
		UnitName:          "TICKET",
		Currency:          "ALGO",
		CurrencyDecimals:  6,
	}
}

// Options tune a single Provision call
type Options struct {
	// IdempotencyKey identifies the request across retries; defaults to the workflow id
	IdempotencyKey string
}

// Orchestrator coordinates the ledger, the workflow store and the organizer lease
type Orchestrator struct {
	cfg    Config
	ledger ledger.Client
	repo   storage.Repository
	locker lock.Locker
	now    func() time.Time
}

// New creates a new Orchestrator
func New(cfg Config, client ledger.Client, repo storage.Repository, locker lock.Locker) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		ledger: client,
		repo:   repo,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the orchestrator's settings
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Provision validates req and runs the workflow to completion or to the
// first failing step. A request carrying a known idempotency key resumes
// that workflow instead of starting a new one.
func (o *Orchestrator) Provision(ctx context.Context, req *models.DeploymentRequest, opts Options, reporter Reporter) (*models.ProvisionResult, error) {
	if reporter == nil {
		reporter = Nop
	}

	if violations := validation.Validate(req, o.cfg.DefaultSaleWindow); len(violations) > 0 {
		metrics.ValidationFailures.Inc()
		err := &ValidationError{Violations: violations}
		reporter.OnError(err.Error())
		return nil, err
	}

	lease, err := o.acquire(ctx, req.Organizer)
	if err != nil {
		reporter.OnError(err.Error())
		return nil, err
	}
	defer o.release(ctx, lease)

	fingerprint := req.Fingerprint(o.cfg.DefaultSaleWindow)

	if opts.IdempotencyKey != "" {
		existing, err := o.repo.GetWorkflowByKey(ctx, opts.IdempotencyKey)
		switch {
		case err == nil:
			if existing.Fingerprint != fingerprint {
				reporter.OnError(ErrIdempotencyConflict.Error())
				return nil, ErrIdempotencyConflict
			}
			slog.Info("Resuming workflow by idempotency key",
				"workflow_id", existing.ID,
				"idempotency_key", opts.IdempotencyKey,
				"status", existing.Status,
			)
			return o.continueWorkflow(ctx, lease, existing, req.Signer, reporter)
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	wf := o.newWorkflow(req, opts.IdempotencyKey, fingerprint)
	if err := o.repo.CreateWorkflow(ctx, wf); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Another instance created it between lookup and insert
			return nil, fmt.Errorf("%w: idempotency key %q is being created elsewhere", ErrBusy, wf.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	slog.Info("🎟️  Provisioning event",
		"workflow_id", wf.ID,
		"event", req.EventName,
		"organizer", req.Organizer,
		"seats", req.SeatCount,
	)

	return o.run(ctx, lease, wf, req.Signer, reporter)
}

// Resume continues a stored workflow from its cursor. signer must control
// the workflow's organizer address.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string, signer ledger.Signer, reporter Reporter) (*models.ProvisionResult, error) {
	if reporter == nil {
		reporter = Nop
	}

	wf, err := o.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	req := wf.Request
	req.Signer = signer
	if violations := validation.Validate(&req, o.cfg.DefaultSaleWindow); len(violations) > 0 {
		err := &ValidationError{Violations: violations}
		reporter.OnError(err.Error())
		return nil, err
	}

	lease, err := o.acquire(ctx, wf.Organizer)
	if err != nil {
		reporter.OnError(err.Error())
		return nil, err
	}
	defer o.release(ctx, lease)

	// Reload under the lease; a concurrent run may have moved the cursor
	if wf, err = o.repo.GetWorkflow(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	slog.Info("Resuming workflow", "workflow_id", wf.ID, "next_step", wf.NextStep(), "status", wf.Status)
	return o.continueWorkflow(ctx, lease, wf, signer, reporter)
}

// continueWorkflow picks up a stored workflow. Must hold the organizer lease.
func (o *Orchestrator) continueWorkflow(ctx context.Context, lease lock.Lease, wf *models.Workflow, signer ledger.Signer, reporter Reporter) (*models.ProvisionResult, error) {
	if !wf.Status.Terminal() {
		return o.run(ctx, lease, wf, signer, reporter)
	}
	if wf.Status == models.StatusAbandoned {
		reporter.OnError(ErrWorkflowAbandoned.Error())
		return nil, ErrWorkflowAbandoned
	}
	result := resultOf(wf)
	reporter.OnSuccess(o.summary(&wf.Request, result), result)
	return result, nil
}

// Workflow loads a stored workflow
func (o *Orchestrator) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return o.repo.GetWorkflow(ctx, workflowID)
}

// Snapshot is a workflow together with the live ledger view of its artifacts
type Snapshot struct {
	Workflow *models.Workflow
	Asset    *models.ProvisionedAsset
	Contract *models.ProvisionedContract
}

// Inspect loads a workflow and reads its artifacts from the ledger. Artifacts
// that no longer exist (or cannot be read) are left nil.
func (o *Orchestrator) Inspect(ctx context.Context, workflowID string) (*Snapshot, error) {
	wf, err := o.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Workflow: wf}
	if wf.Artifacts.AssetID != 0 {
		if asset, err := o.ledger.GetAsset(ctx, wf.Artifacts.AssetID); err == nil {
			pa := models.AssetFromLedger(asset)
			snap.Asset = &pa
		} else {
			slog.Debug("Asset not readable", "workflow_id", wf.ID, "asset_id", wf.Artifacts.AssetID, "error", err)
		}
	}
	if wf.Artifacts.AppID != 0 {
		if app, err := o.ledger.GetApplication(ctx, wf.Artifacts.AppID); err == nil {
			pc := models.ContractFromLedger(app)
			snap.Contract = &pc
		} else {
			slog.Debug("Application not readable", "workflow_id", wf.ID, "app_id", wf.Artifacts.AppID, "error", err)
		}
	}
	return snap, nil
}

func (o *Orchestrator) newWorkflow(req *models.DeploymentRequest, key, fingerprint string) *models.Workflow {
	id := uuid.NewString()
	if key == "" {
		key = id
	}
	now := o.now()

	stored := *req
	stored.Signer = nil
	if stored.SaleEnd.IsZero() {
		stored.SaleEnd = req.EffectiveSaleEnd(o.cfg.DefaultSaleWindow)
	}

	return &models.Workflow{
		ID:             id,
		IdempotencyKey: key,
		Fingerprint:    fingerprint,
		Organizer:      req.Organizer,
		Request:        stored,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (o *Orchestrator) acquire(ctx context.Context, organizer string) (lock.Lease, error) {
	lease, err := o.locker.Acquire(ctx, "organizer:"+organizer, o.cfg.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		metrics.LockContention.Inc()
		slog.Warn("Organizer lease is held", "organizer", organizer)
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire organizer lease: %w", err)
	}
	return lease, nil
}

func (o *Orchestrator) release(ctx context.Context, lease lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to release organizer lease", "key", lease.Key(), "error", err)
	}
}

// save persists the cursor even when ctx is already canceled
func (o *Orchestrator) save(ctx context.Context, wf *models.Workflow) error {
	wf.UpdatedAt = o.now()
	if err := o.repo.SaveWorkflow(context.WithoutCancel(ctx), wf); err != nil {
		return fmt.Errorf("failed to persist workflow %s: %w", wf.ID, err)
	}
	return nil
}

func resultOf(wf *models.Workflow) *models.ProvisionResult {
	return &models.ProvisionResult{
		WorkflowID: wf.ID,
		AssetID:    wf.Artifacts.AssetID,
		AppID:      wf.Artifacts.AppID,
		AppAddress: wf.Artifacts.AppAddress,
	}
}
