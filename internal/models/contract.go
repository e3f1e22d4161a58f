package models

import "provisioner/internal/ledger"

// ProvisionedContract represents the deployed sale contract
type ProvisionedContract struct {
	// Identification
	AppID   uint64 `json:"app_id"`
	Address string `json:"address"` // derived from AppID
	Name    string `json:"name"`

	// Bootstrap parameters, fixed at creation
	AssetID      uint64 `json:"asset_id"`
	UnitPrice    uint64 `json:"unit_price"`
	SaleStart    uint64 `json:"sale_start"` // unix seconds
	SaleEnd      uint64 `json:"sale_end"`   // unix seconds
	PerWalletCap uint64 `json:"per_wallet_cap"`
	Organizer    string `json:"organizer"`

	SchemaVersion uint32 `json:"schema_version"`
}

// ContractFromLedger converts a ledger application
func ContractFromLedger(app *ledger.Application) ProvisionedContract {
	return ProvisionedContract{
		AppID:         app.ID,
		Address:       app.Address,
		Name:          app.Name,
		AssetID:       app.Bootstrap.AssetID,
		UnitPrice:     app.Bootstrap.Price,
		SaleStart:     app.Bootstrap.Start,
		SaleEnd:       app.Bootstrap.End,
		PerWalletCap:  app.Bootstrap.PerWalletCap,
		Organizer:     app.Bootstrap.Organizer,
		SchemaVersion: app.SchemaVersion,
	}
}
