package memory

import (
	"context"

	"provisioner/internal/ledger"
)

// CreateAsset mints a new asset; the creator receives the whole supply
func (l *Ledger) CreateAsset(ctx context.Context, signer ledger.Signer, params ledger.AssetParams) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpCreateAsset)
	if err != nil {
		return 0, err
	}
	sender, err := l.authorize(signer, ledger.OpCreateAsset, params)
	if err != nil {
		return 0, err
	}

	switch {
	case params.Total == 0:
		return 0, ledger.Errorf(ledger.CodeMalformed, "asset total must be positive")
	case params.Decimals > 19:
		return 0, ledger.Errorf(ledger.CodeMalformed, "asset decimals %d out of range", params.Decimals)
	case len(params.UnitName) > l.cfg.MaxUnitNameLen:
		return 0, ledger.Errorf(ledger.CodeMalformed, "unit name %q longer than %d bytes", params.UnitName, l.cfg.MaxUnitNameLen)
	case len(params.AssetName) > l.cfg.MaxAssetNameLen:
		return 0, ledger.Errorf(ledger.CodeMalformed, "asset name %q longer than %d bytes", params.AssetName, l.cfg.MaxAssetNameLen)
	}
	if err := validateAuthorities(params.Authorities); err != nil {
		return 0, err
	}
	if err := l.charge(sender, 0, l.cfg.HoldingMinBalance); err != nil {
		return 0, err
	}

	id := l.nextID
	l.nextID++
	l.assets[id] = &ledger.Asset{ID: id, Creator: sender, AssetParams: params}
	l.accounts[sender].holdings[id] = params.Total

	if f.err != nil {
		return 0, f.err
	}
	return id, nil
}

// DeployApplication creates an application, reusing a compatible instance
// with the same creator and name. A differing instance is never modified:
// the policy either appends a new instance or rejects the deployment.
func (l *Ledger) DeployApplication(ctx context.Context, signer ledger.Signer, spec ledger.AppSpec) (*ledger.DeployResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpDeployApplication)
	if err != nil {
		return nil, err
	}
	sender, err := l.authorize(signer, ledger.OpDeployApplication, spec)
	if err != nil {
		return nil, err
	}
	if err := l.validateBootstrap(spec); err != nil {
		return nil, err
	}

	operation := ledger.DeployCreated
	if existing := l.latestApp(sender, spec.Name); existing != nil {
		if existing.Compatible(spec) {
			if f.err != nil {
				return nil, f.err
			}
			return &ledger.DeployResult{Application: *existing, Operation: ledger.DeployReused}, nil
		}

		action := spec.Policy.OnUpdate
		if existing.SchemaVersion != spec.SchemaVersion {
			action = spec.Policy.OnSchemaBreak
		}
		if action != ledger.UpdateAppend {
			return nil, ledger.Errorf(ledger.CodeConflict,
				"application %q already exists as %d with different parameters", spec.Name, existing.ID)
		}
		operation = ledger.DeployAppended
	}

	if err := l.charge(sender, 0, l.cfg.AppMinBalance); err != nil {
		return nil, err
	}

	id := l.nextID
	l.nextID++
	app := &ledger.Application{
		ID:            id,
		Address:       ledger.ApplicationAddress(id),
		Creator:       sender,
		Name:          spec.Name,
		SchemaVersion: spec.SchemaVersion,
		Bootstrap:     spec.Bootstrap,
	}
	l.apps[id] = app
	l.accounts[sender].apps++

	if f.err != nil {
		return nil, f.err
	}
	return &ledger.DeployResult{Application: *app, Operation: operation}, nil
}

func (l *Ledger) validateBootstrap(spec ledger.AppSpec) error {
	b := spec.Bootstrap
	switch {
	case spec.Name == "":
		return ledger.Errorf(ledger.CodeMalformed, "application name is required")
	case spec.Policy.OnSchemaBreak == "" || spec.Policy.OnUpdate == "":
		return ledger.Errorf(ledger.CodeMalformed, "update policy is required")
	case b.End <= b.Start:
		return ledger.Errorf(ledger.CodeMalformed, "sale end %d not after start %d", b.End, b.Start)
	case b.PerWalletCap == 0:
		return ledger.Errorf(ledger.CodeMalformed, "per-wallet cap must be positive")
	}
	if _, ok := l.assets[b.AssetID]; !ok {
		return ledger.Errorf(ledger.CodeMalformed, "bootstrap asset %d does not exist", b.AssetID)
	}
	if err := ledger.ValidateAccountAddress(b.Organizer); err != nil {
		return ledger.Errorf(ledger.CodeMalformed, "bootstrap organizer: %v", err)
	}
	return nil
}

// TransferNative pays amount of the native currency from the signer to to
func (l *Ledger) TransferNative(ctx context.Context, signer ledger.Signer, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpTransferNative)
	if err != nil {
		return err
	}
	sender, err := l.authorize(signer, ledger.OpTransferNative, map[string]any{"to": to, "amount": amount})
	if err != nil {
		return err
	}
	if err := ledger.ValidateAddress(to); err != nil {
		return ledger.Errorf(ledger.CodeMalformed, "receiver: %v", err)
	}
	if amount == 0 {
		return ledger.Errorf(ledger.CodeMalformed, "amount must be positive")
	}

	if to != sender {
		var have, need uint64 = 0, l.cfg.MinBalance
		if recv, ok := l.accounts[to]; ok {
			have, need = recv.balance, l.required(recv)
		}
		if have+amount < need {
			return ledger.Errorf(ledger.CodeInsufficientBalance,
				"receiver %s would hold %d, below minimum balance %d", to, have+amount, need)
		}
		if err := l.charge(sender, amount, 0); err != nil {
			return err
		}
		l.account(to).balance += amount
	} else if err := l.charge(sender, 0, 0); err != nil {
		return err
	}

	return f.err
}

// ReconfigureAsset replaces the authority set; only the manager may do so
// and a cleared role can never be re-enabled
func (l *Ledger) ReconfigureAsset(ctx context.Context, signer ledger.Signer, assetID uint64, authorities ledger.Authorities) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpReconfigureAsset)
	if err != nil {
		return err
	}
	sender, err := l.authorize(signer, ledger.OpReconfigureAsset, map[string]any{"asset_id": assetID, "authorities": authorities})
	if err != nil {
		return err
	}

	asset, ok := l.assets[assetID]
	if !ok {
		return ledger.Errorf(ledger.CodeNotFound, "asset %d does not exist", assetID)
	}
	if asset.Authorities.Manager != sender {
		return ledger.Errorf(ledger.CodeInvalidAuthority, "%s is not the manager of asset %d", sender, assetID)
	}
	if err := validateAuthorities(authorities); err != nil {
		return err
	}
	current := roles(asset.Authorities)
	for i, r := range roles(authorities) {
		if current[i].addr == "" && r.addr != "" {
			return ledger.Errorf(ledger.CodeInvalidAuthority, "%s role of asset %d was cleared", r.name, assetID)
		}
	}
	if err := l.charge(sender, 0, 0); err != nil {
		return err
	}

	asset.Authorities = authorities
	return f.err
}

// TransferAsset moves units of an asset. Receiving a new asset raises the
// receiver's minimum balance, which it must already cover.
func (l *Ledger) TransferAsset(ctx context.Context, signer ledger.Signer, assetID uint64, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpTransferAsset)
	if err != nil {
		return err
	}
	sender, err := l.authorize(signer, ledger.OpTransferAsset, map[string]any{"asset_id": assetID, "to": to, "amount": amount})
	if err != nil {
		return err
	}

	if _, ok := l.assets[assetID]; !ok {
		return ledger.Errorf(ledger.CodeNotFound, "asset %d does not exist", assetID)
	}
	if err := ledger.ValidateAddress(to); err != nil {
		return ledger.Errorf(ledger.CodeMalformed, "receiver: %v", err)
	}
	if amount == 0 {
		return ledger.Errorf(ledger.CodeMalformed, "amount must be positive")
	}

	src, ok := l.accounts[sender]
	if !ok {
		return ledger.Errorf(ledger.CodeInsufficientBalance, "account %s does not exist", sender)
	}
	held, holds := src.holdings[assetID]
	if !holds {
		return ledger.Errorf(ledger.CodeInvalidAuthority, "%s does not hold asset %d", sender, assetID)
	}
	if held < amount {
		return ledger.Errorf(ledger.CodeInsufficientBalance, "%s holds %d of asset %d, needs %d", sender, held, assetID, amount)
	}

	var dst *account
	if to != sender {
		dst, ok = l.accounts[to]
		if !ok {
			return ledger.Errorf(ledger.CodeInsufficientBalance, "receiver %s does not exist", to)
		}
		if _, holds := dst.holdings[assetID]; !holds && dst.balance < l.required(dst)+l.cfg.HoldingMinBalance {
			return ledger.Errorf(ledger.CodeInsufficientBalance, "receiver %s cannot cover the reserve for asset %d", to, assetID)
		}
	}
	if err := l.charge(sender, 0, 0); err != nil {
		return err
	}

	if dst != nil {
		src.holdings[assetID] -= amount
		dst.holdings[assetID] += amount
	}
	return f.err
}

// DestroyAsset removes an asset whose whole supply is back with its creator
func (l *Ledger) DestroyAsset(ctx context.Context, signer ledger.Signer, assetID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpDestroyAsset)
	if err != nil {
		return err
	}
	sender, err := l.authorize(signer, ledger.OpDestroyAsset, map[string]any{"asset_id": assetID})
	if err != nil {
		return err
	}

	asset, ok := l.assets[assetID]
	if !ok {
		return ledger.Errorf(ledger.CodeNotFound, "asset %d does not exist", assetID)
	}
	if asset.Authorities.Manager != sender {
		return ledger.Errorf(ledger.CodeInvalidAuthority, "%s is not the manager of asset %d", sender, assetID)
	}
	if held := l.accounts[asset.Creator].holdings[assetID]; held != asset.Total {
		return ledger.Errorf(ledger.CodeConflict, "%d of %d units of asset %d are outstanding", asset.Total-held, asset.Total, assetID)
	}
	if err := l.charge(sender, 0, 0); err != nil {
		return err
	}

	for _, acc := range l.accounts {
		delete(acc.holdings, assetID)
	}
	delete(l.assets, assetID)
	return f.err
}

// DeleteApplication removes an application and closes its account back to the creator
func (l *Ledger) DeleteApplication(ctx context.Context, signer ledger.Signer, appID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.begin(ctx, ledger.OpDeleteApplication)
	if err != nil {
		return err
	}
	sender, err := l.authorize(signer, ledger.OpDeleteApplication, map[string]any{"app_id": appID})
	if err != nil {
		return err
	}

	app, ok := l.apps[appID]
	if !ok {
		return ledger.Errorf(ledger.CodeNotFound, "application %d does not exist", appID)
	}
	if app.Creator != sender {
		return ledger.Errorf(ledger.CodeInvalidAuthority, "%s did not create application %d", sender, appID)
	}
	appAcc := l.accounts[app.Address]
	if appAcc != nil {
		for id, units := range appAcc.holdings {
			if units > 0 {
				return ledger.Errorf(ledger.CodeConflict, "application %d still holds %d units of asset %d", appID, units, id)
			}
		}
	}
	if err := l.charge(sender, 0, 0); err != nil {
		return err
	}

	creator := l.accounts[sender]
	if appAcc != nil {
		creator.balance += appAcc.balance
		delete(l.accounts, app.Address)
	}
	creator.apps--
	delete(l.apps, appID)
	return f.err
}
