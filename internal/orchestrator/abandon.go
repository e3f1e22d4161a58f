package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"provisioner/internal/ledger"
	"provisioner/internal/models"
)

// Abandon gives up on an unfinished workflow and cleans up what it left on
// the ledger: the contract is deleted and the asset destroyed when the
// organizer still holds the whole supply. Abandoning twice is a no-op.
func (o *Orchestrator) Abandon(ctx context.Context, workflowID string, signer ledger.Signer) (*models.Workflow, error) {
	wf, err := o.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if signer == nil || signer.Address() != wf.Organizer {
		return nil, &ValidationError{Violations: []string{"signer does not control the organizer address"}}
	}

	lease, err := o.acquire(ctx, wf.Organizer)
	if err != nil {
		return nil, err
	}
	defer o.release(ctx, lease)

	if wf, err = o.repo.GetWorkflow(ctx, workflowID); err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if wf.Status.Terminal() {
		if wf.Status == models.StatusSucceeded {
			return nil, ErrWorkflowSucceeded
		}
		return wf, nil
	}

	rep := &journal{ctx: ctx, repo: o.repo, wf: wf, next: Nop, now: o.now}

	// A lost confirmation may have left artifacts the cursor never recorded
	if err := o.reconcileArtifacts(ctx, wf); err != nil {
		return nil, err
	}

	if wf.Artifacts.AppID != 0 {
		err := o.ledger.DeleteApplication(ctx, signer, wf.Artifacts.AppID)
		if err != nil && !ledger.IsNotFound(err) {
			return nil, fmt.Errorf("failed to delete application %d: %w", wf.Artifacts.AppID, err)
		}
		rep.OnProgress(Progress{WorkflowID: wf.ID, Message: fmt.Sprintf("Application %d deleted", wf.Artifacts.AppID)})
	}

	if wf.Artifacts.AssetID != 0 {
		destroyed, err := o.destroyAsset(ctx, wf, signer)
		if err != nil {
			return nil, err
		}
		if destroyed {
			rep.OnProgress(Progress{WorkflowID: wf.ID, Message: fmt.Sprintf("Asset %d destroyed", wf.Artifacts.AssetID)})
		} else {
			rep.OnProgress(Progress{WorkflowID: wf.ID, Message: fmt.Sprintf("Asset %d left in place: units are outstanding", wf.Artifacts.AssetID)})
		}
	}

	wf.Status = models.StatusAbandoned
	if err := o.save(ctx, wf); err != nil {
		return nil, err
	}

	slog.Info("Workflow abandoned",
		"workflow_id", wf.ID,
		"asset_id", wf.Artifacts.AssetID,
		"app_id", wf.Artifacts.AppID,
	)
	return wf, nil
}

func (o *Orchestrator) reconcileArtifacts(ctx context.Context, wf *models.Workflow) error {
	if wf.Artifacts.AssetID == 0 {
		asset, err := o.ledger.FindAsset(ctx, wf.Organizer, wf.Tag())
		switch {
		case err == nil:
			wf.Artifacts.AssetID = asset.ID
		case !ledger.IsNotFound(err):
			return fmt.Errorf("failed to look up asset: %w", err)
		}
	}
	if wf.Artifacts.AppID == 0 {
		app, err := o.ledger.FindApplication(ctx, wf.Organizer, wf.AppName())
		switch {
		case err == nil:
			wf.Artifacts.AppID = app.ID
			wf.Artifacts.AppAddress = app.Address
		case !ledger.IsNotFound(err):
			return fmt.Errorf("failed to look up application: %w", err)
		}
	}
	return nil
}

// destroyAsset destroys the asset if its whole supply is back with the organizer
func (o *Orchestrator) destroyAsset(ctx context.Context, wf *models.Workflow, signer ledger.Signer) (bool, error) {
	asset, err := o.ledger.GetAsset(ctx, wf.Artifacts.AssetID)
	if ledger.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read asset %d: %w", wf.Artifacts.AssetID, err)
	}

	held, err := o.ledger.AssetHolding(ctx, wf.Organizer, asset.ID)
	if err != nil && !ledger.IsNotFound(err) {
		return false, fmt.Errorf("failed to read organizer holding: %w", err)
	}
	if held != asset.Total {
		slog.Warn("Asset has outstanding units, not destroying",
			"workflow_id", wf.ID,
			"asset_id", asset.ID,
			"held", held,
			"total", asset.Total,
		)
		return false, nil
	}

	if err := o.ledger.DestroyAsset(ctx, signer, asset.ID); err != nil && !ledger.IsNotFound(err) {
		return false, fmt.Errorf("failed to destroy asset %d: %w", asset.ID, err)
	}
	return true, nil
}
