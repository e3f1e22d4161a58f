package orchestrator

import (
	"context"
	"fmt"
	"unicode/utf8"

	"provisioner/internal/ledger"
)

// maxAssetNameLen is the longest asset name the ledger accepts
const maxAssetNameLen = 32

// ensureAsset makes sure the workflow's ticket asset exists. A recorded id is
// verified; otherwise the organizer's assets are searched for the workflow tag
// before a new asset is minted.
func (o *Orchestrator) ensureAsset(ctx context.Context, ex *execution) (completion, error) {
	wf := ex.wf

	if wf.Artifacts.AssetID != 0 {
		asset, err := o.ledger.GetAsset(ctx, wf.Artifacts.AssetID)
		if err != nil {
			return "", fmt.Errorf("failed to verify asset %d: %w", wf.Artifacts.AssetID, err)
		}
		if err := o.checkAsset(ex, asset); err != nil {
			return "", err
		}
		return skipped, nil
	}

	asset, err := o.ledger.FindAsset(ctx, wf.Organizer, wf.Tag())
	switch {
	case err == nil:
		if err := o.checkAsset(ex, asset); err != nil {
			return "", err
		}
		wf.Artifacts.AssetID = asset.ID
		return reconciled, nil
	case !ledger.IsNotFound(err):
		return "", fmt.Errorf("failed to look up asset: %w", err)
	}

	id, err := o.ledger.CreateAsset(ctx, ex.signer, ledger.AssetParams{
		Total:         uint64(ex.req.SeatCount),
		Decimals:      0,
		DefaultFrozen: false,
		UnitName:      o.cfg.UnitName,
		AssetName:     assetName(ex.req.EventName),
		Note:          wf.Tag(),
		Authorities:   ledger.SingleAuthority(wf.Organizer),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create ticket asset: %w", err)
	}

	wf.Artifacts.AssetID = id
	return applied, nil
}

func (o *Orchestrator) checkAsset(ex *execution, asset *ledger.Asset) error {
	if asset.Creator != ex.wf.Organizer || asset.Total != uint64(ex.req.SeatCount) || asset.Decimals != 0 {
		return ledger.Errorf(ledger.CodeConflict,
			"asset %d does not match the request (creator %s, total %d, decimals %d)",
			asset.ID, asset.Creator, asset.Total, asset.Decimals)
	}
	return nil
}

func (o *Orchestrator) appSpec(ex *execution) ledger.AppSpec {
	req := ex.req
	return ledger.AppSpec{
		Name:          ex.wf.AppName(),
		SchemaVersion: o.cfg.SchemaVersion,
		Bootstrap: ledger.BootstrapArgs{
			AssetID:      ex.wf.Artifacts.AssetID,
			Price:        uint64(req.UnitPrice),
			Start:        uint64(req.SaleStart.Unix()),
			End:          uint64(req.EffectiveSaleEnd(o.cfg.DefaultSaleWindow).Unix()),
			PerWalletCap: uint64(req.PerWalletCap),
			Organizer:    ex.wf.Organizer,
		},
		Policy: ledger.AppendPolicy,
	}
}

// ensureContract makes sure a contract bootstrapped for this workflow's
// asset exists. The deployment itself reuses a compatible instance with the
// same name, so a lost confirmation never produces a second contract.
func (o *Orchestrator) ensureContract(ctx context.Context, ex *execution) (completion, error) {
	wf := ex.wf
	spec := o.appSpec(ex)

	if wf.Artifacts.AppID != 0 {
		app, err := o.ledger.GetApplication(ctx, wf.Artifacts.AppID)
		if err != nil {
			return "", fmt.Errorf("failed to verify application %d: %w", wf.Artifacts.AppID, err)
		}
		if !app.Compatible(spec) {
			return "", ledger.Errorf(ledger.CodeConflict,
				"application %d was bootstrapped with different parameters", app.ID)
		}
		return skipped, nil
	}

	how := applied
	app, err := o.ledger.FindApplication(ctx, wf.Organizer, spec.Name)
	switch {
	case err == nil && app.Compatible(spec):
		how = reconciled
	case err == nil || ledger.IsNotFound(err):
		res, err := o.ledger.DeployApplication(ctx, ex.signer, spec)
		if err != nil {
			return "", fmt.Errorf("failed to deploy contract: %w", err)
		}
		app = &res.Application
		if res.Operation == ledger.DeployReused {
			how = reconciled
		}
	default:
		return "", fmt.Errorf("failed to look up application: %w", err)
	}

	if app.Bootstrap.AssetID != wf.Artifacts.AssetID {
		return "", ledger.Errorf(ledger.CodeConflict,
			"application %d is bound to asset %d, expected %d", app.ID, app.Bootstrap.AssetID, wf.Artifacts.AssetID)
	}

	wf.Artifacts.AppID = app.ID
	wf.Artifacts.AppAddress = app.Address
	if wf.Artifacts.AppAddress == "" {
		wf.Artifacts.AppAddress = ledger.ApplicationAddress(app.ID)
	}
	return how, nil
}

// ensureFunded tops the contract account up to the funding reserve
func (o *Orchestrator) ensureFunded(ctx context.Context, ex *execution) (completion, error) {
	addr := ex.wf.Artifacts.AppAddress

	balance, err := o.ledger.Balance(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("failed to read contract balance: %w", err)
	}
	if balance >= o.cfg.FundingReserve {
		return skipped, nil
	}

	if err := o.ledger.TransferNative(ctx, ex.signer, addr, o.cfg.FundingReserve); err != nil {
		return "", fmt.Errorf("failed to fund contract account: %w", err)
	}
	return applied, nil
}

// ensureClawback hands the clawback role to the contract; the other roles
// stay with the organizer
func (o *Orchestrator) ensureClawback(ctx context.Context, ex *execution) (completion, error) {
	wf := ex.wf

	asset, err := o.ledger.GetAsset(ctx, wf.Artifacts.AssetID)
	if err != nil {
		return "", fmt.Errorf("failed to read asset %d: %w", wf.Artifacts.AssetID, err)
	}

	want := ledger.SingleAuthority(wf.Organizer)
	want.Clawback = wf.Artifacts.AppAddress
	if asset.Authorities == want {
		return skipped, nil
	}

	if err := o.ledger.ReconfigureAsset(ctx, ex.signer, asset.ID, want); err != nil {
		return "", fmt.Errorf("failed to reassign clawback: %w", err)
	}
	return applied, nil
}

// ensureCustody places the full supply with its holder of record
func (o *Orchestrator) ensureCustody(ctx context.Context, ex *execution) (completion, error) {
	wf := ex.wf
	total := uint64(ex.req.SeatCount)
	assetID := wf.Artifacts.AssetID

	if o.cfg.Custody == CustodyContract {
		held, err := o.ledger.AssetHolding(ctx, wf.Artifacts.AppAddress, assetID)
		if err != nil && !ledger.IsNotFound(err) {
			return "", fmt.Errorf("failed to read contract holding: %w", err)
		}
		if held >= total {
			return skipped, nil
		}
		if err := o.ledger.TransferAsset(ctx, ex.signer, assetID, wf.Artifacts.AppAddress, total-held); err != nil {
			return "", fmt.Errorf("failed to move supply to contract: %w", err)
		}
		return applied, nil
	}

	held, err := o.ledger.AssetHolding(ctx, wf.Organizer, assetID)
	if err != nil {
		return "", fmt.Errorf("failed to read organizer holding: %w", err)
	}
	if held != total {
		return "", ledger.Errorf(ledger.CodeInsufficientBalance,
			"organizer holds %d of %d tickets", held, total)
	}

	// A self-transfer moves nothing; it confirms the organizer can move the
	// whole supply and is safe to repeat
	if err := o.ledger.TransferAsset(ctx, ex.signer, assetID, wf.Organizer, total); err != nil {
		return "", fmt.Errorf("failed to confirm supply custody: %w", err)
	}
	return applied, nil
}

// finalize assembles the result
func (o *Orchestrator) finalize(ctx context.Context, ex *execution) (completion, error) {
	wf := ex.wf
	if wf.Artifacts.AssetID == 0 || wf.Artifacts.AppID == 0 || wf.Artifacts.AppAddress == "" {
		return "", fmt.Errorf("workflow %s is missing artifacts: %+v", wf.ID, wf.Artifacts)
	}
	ex.result = resultOf(wf)
	return applied, nil
}

func assetName(eventName string) string {
	if len(eventName) <= maxAssetNameLen {
		return eventName
	}
	cut := maxAssetNameLen
	for cut > 0 && !utf8.RuneStart(eventName[cut]) {
		cut--
	}
	return eventName[:cut]
}
