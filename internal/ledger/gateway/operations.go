package gateway

import (
	"context"
	"log/slog"

	"provisioner/internal/ledger"
)

type paymentBody struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type configBody struct {
	AssetID     uint64             `json:"asset_id"`
	Authorities ledger.Authorities `json:"authorities"`
}

type assetTransferBody struct {
	AssetID uint64 `json:"asset_id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
}

type assetRef struct {
	AssetID uint64 `json:"asset_id"`
}

type appRef struct {
	AppID uint64 `json:"app_id"`
}

type accountInfo struct {
	Address  string            `json:"address"`
	Balance  uint64            `json:"balance"`
	Holdings map[string]uint64 `json:"holdings"`
}

// CreateAsset posts an asset creation
func (c *Client) CreateAsset(ctx context.Context, signer ledger.Signer, params ledger.AssetParams) (uint64, error) {
	var out struct {
		AssetID uint64 `json:"asset_id"`
		TxID    string `json:"tx_id"`
	}
	if err := c.submit(ctx, signer, ledger.OpCreateAsset, "/v1/assets", params, &out); err != nil {
		return 0, err
	}
	slog.Debug("Gateway: asset created", "asset_id", out.AssetID, "tx_id", out.TxID)
	return out.AssetID, nil
}

// DeployApplication posts an application deployment
func (c *Client) DeployApplication(ctx context.Context, signer ledger.Signer, spec ledger.AppSpec) (*ledger.DeployResult, error) {
	var out ledger.DeployResult
	if err := c.submit(ctx, signer, ledger.OpDeployApplication, "/v1/applications", spec, &out); err != nil {
		return nil, err
	}
	if out.Address == "" {
		out.Address = ledger.ApplicationAddress(out.ID)
	}
	return &out, nil
}

// TransferNative posts a native payment
func (c *Client) TransferNative(ctx context.Context, signer ledger.Signer, to string, amount uint64) error {
	var out receipt
	return c.submit(ctx, signer, ledger.OpTransferNative, "/v1/payments", paymentBody{To: to, Amount: amount}, &out)
}

// ReconfigureAsset posts an authority change
func (c *Client) ReconfigureAsset(ctx context.Context, signer ledger.Signer, assetID uint64, authorities ledger.Authorities) error {
	var out receipt
	body := configBody{AssetID: assetID, Authorities: authorities}
	return c.submit(ctx, signer, ledger.OpReconfigureAsset, "/v1/assets/"+id(assetID)+"/config", body, &out)
}

// TransferAsset posts an asset transfer
func (c *Client) TransferAsset(ctx context.Context, signer ledger.Signer, assetID uint64, to string, amount uint64) error {
	var out receipt
	body := assetTransferBody{AssetID: assetID, To: to, Amount: amount}
	return c.submit(ctx, signer, ledger.OpTransferAsset, "/v1/assets/"+id(assetID)+"/transfers", body, &out)
}

// DestroyAsset posts an asset destruction
func (c *Client) DestroyAsset(ctx context.Context, signer ledger.Signer, assetID uint64) error {
	var out receipt
	return c.submit(ctx, signer, ledger.OpDestroyAsset, "/v1/assets/"+id(assetID)+"/destroy", assetRef{AssetID: assetID}, &out)
}

// DeleteApplication posts an application deletion
func (c *Client) DeleteApplication(ctx context.Context, signer ledger.Signer, appID uint64) error {
	var out receipt
	return c.submit(ctx, signer, ledger.OpDeleteApplication, "/v1/applications/"+id(appID)+"/delete", appRef{AppID: appID}, &out)
}

// GetAsset fetches an asset by id
func (c *Client) GetAsset(ctx context.Context, assetID uint64) (*ledger.Asset, error) {
	var out ledger.Asset
	if err := c.query(ctx, ledger.OpGetAsset, "/v1/assets/"+id(assetID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindAsset looks an asset up by creator and note
func (c *Client) FindAsset(ctx context.Context, creator, note string) (*ledger.Asset, error) {
	var out ledger.Asset
	params := map[string]string{"creator": creator, "note": note}
	if err := c.query(ctx, ledger.OpFindAsset, "/v1/assets", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetApplication fetches an application by id
func (c *Client) GetApplication(ctx context.Context, appID uint64) (*ledger.Application, error) {
	var out ledger.Application
	if err := c.query(ctx, ledger.OpGetApplication, "/v1/applications/"+id(appID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindApplication looks up the newest application with that name by creator
func (c *Client) FindApplication(ctx context.Context, creator, name string) (*ledger.Application, error) {
	var out ledger.Application
	params := map[string]string{"creator": creator, "name": name}
	if err := c.query(ctx, ledger.OpFindApplication, "/v1/applications", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the native balance; unknown accounts hold zero
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	var out accountInfo
	err := c.query(ctx, ledger.OpBalance, "/v1/accounts/"+address, nil, &out)
	if ledger.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// AssetHolding returns the units of assetID held by address
func (c *Client) AssetHolding(ctx context.Context, address string, assetID uint64) (uint64, error) {
	var out accountInfo
	if err := c.query(ctx, ledger.OpAssetHolding, "/v1/accounts/"+address, nil, &out); err != nil {
		return 0, err
	}
	units, ok := out.Holdings[id(assetID)]
	if !ok {
		return 0, ledger.Errorf(ledger.CodeNotFound, "%s does not hold asset %d", address, assetID)
	}
	return units, nil
}
