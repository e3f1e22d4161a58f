package models

import "provisioner/internal/ledger"

// ProvisionedAsset represents the minted ticket token
type ProvisionedAsset struct {
	AssetID   uint64 `json:"asset_id"`
	Total     uint64 `json:"total"`
	Decimals  uint32 `json:"decimals"`
	UnitName  string `json:"unit_name"`
	AssetName string `json:"asset_name"`

	// Authority roles; clawback moves to the contract once it is funded
	Manager  string `json:"manager"`
	Reserve  string `json:"reserve"`
	Freeze   string `json:"freeze"`
	Clawback string `json:"clawback"`
}

// AssetFromLedger converts a ledger asset
func AssetFromLedger(a *ledger.Asset) ProvisionedAsset {
	return ProvisionedAsset{
		AssetID:   a.ID,
		Total:     a.Total,
		Decimals:  a.Decimals,
		UnitName:  a.UnitName,
		AssetName: a.AssetName,
		Manager:   a.Authorities.Manager,
		Reserve:   a.Authorities.Reserve,
		Freeze:    a.Authorities.Freeze,
		Clawback:  a.Authorities.Clawback,
	}
}
