package memory

import (
	"context"

	"provisioner/internal/ledger"
)

// GetAsset returns an asset by id
func (l *Ledger) GetAsset(ctx context.Context, assetID uint64) (*ledger.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpGetAsset); err != nil {
		return nil, err
	}
	asset, ok := l.assets[assetID]
	if !ok {
		return nil, ledger.Errorf(ledger.CodeNotFound, "asset %d does not exist", assetID)
	}
	out := *asset
	return &out, nil
}

// FindAsset returns the oldest asset created by creator carrying note
func (l *Ledger) FindAsset(ctx context.Context, creator, note string) (*ledger.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpFindAsset); err != nil {
		return nil, err
	}
	var found *ledger.Asset
	for _, a := range l.assets {
		if a.Creator != creator || a.Note != note {
			continue
		}
		if found == nil || a.ID < found.ID {
			found = a
		}
	}
	if found == nil {
		return nil, ledger.Errorf(ledger.CodeNotFound, "no asset by %s with note %q", creator, note)
	}
	out := *found
	return &out, nil
}

// GetApplication returns an application by id
func (l *Ledger) GetApplication(ctx context.Context, appID uint64) (*ledger.Application, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpGetApplication); err != nil {
		return nil, err
	}
	app, ok := l.apps[appID]
	if !ok {
		return nil, ledger.Errorf(ledger.CodeNotFound, "application %d does not exist", appID)
	}
	out := *app
	return &out, nil
}

// FindApplication returns the newest application of that name by creator
func (l *Ledger) FindApplication(ctx context.Context, creator, name string) (*ledger.Application, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpFindApplication); err != nil {
		return nil, err
	}
	app := l.latestApp(creator, name)
	if app == nil {
		return nil, ledger.Errorf(ledger.CodeNotFound, "no application %q by %s", name, creator)
	}
	out := *app
	return &out, nil
}

// latestApp must be called with mu held
func (l *Ledger) latestApp(creator, name string) *ledger.Application {
	var found *ledger.Application
	for _, a := range l.apps {
		if a.Creator != creator || a.Name != name {
			continue
		}
		if found == nil || a.ID > found.ID {
			found = a
		}
	}
	return found
}

// Balance returns the native balance of address; unknown accounts hold zero
func (l *Ledger) Balance(ctx context.Context, address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpBalance); err != nil {
		return 0, err
	}
	if acc, ok := l.accounts[address]; ok {
		return acc.balance, nil
	}
	return 0, nil
}

// AssetHolding returns the units of assetID held by address
func (l *Ledger) AssetHolding(ctx context.Context, address string, assetID uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.begin(ctx, ledger.OpAssetHolding); err != nil {
		return 0, err
	}
	acc, ok := l.accounts[address]
	if !ok {
		return 0, ledger.Errorf(ledger.CodeNotFound, "account %s does not exist", address)
	}
	units, ok := acc.holdings[assetID]
	if !ok {
		return 0, ledger.Errorf(ledger.CodeNotFound, "%s does not hold asset %d", address, assetID)
	}
	return units, nil
}
