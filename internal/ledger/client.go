package ledger

import "context"

// Operation names, used in signed envelopes, call logs and metric labels
const (
	OpCreateAsset       = "create_asset"
	OpDeployApplication = "deploy_application"
	OpTransferNative    = "transfer_native"
	OpReconfigureAsset  = "reconfigure_asset"
	OpTransferAsset     = "transfer_asset"
	OpDestroyAsset      = "destroy_asset"
	OpDeleteApplication = "delete_application"

	OpGetAsset        = "get_asset"
	OpFindAsset       = "find_asset"
	OpGetApplication  = "get_application"
	OpFindApplication = "find_application"
	OpBalance         = "balance"
	OpAssetHolding    = "asset_holding"
)

// Submitter executes signed, state-changing operations on the ledger.
// Every call either returns a confirmed result or an error; a *Error with
// Ambiguous set means the operation may have landed despite the error.
type Submitter interface {
	CreateAsset(ctx context.Context, signer Signer, params AssetParams) (uint64, error)
	DeployApplication(ctx context.Context, signer Signer, spec AppSpec) (*DeployResult, error)
	TransferNative(ctx context.Context, signer Signer, to string, amount uint64) error
	ReconfigureAsset(ctx context.Context, signer Signer, assetID uint64, authorities Authorities) error
	TransferAsset(ctx context.Context, signer Signer, assetID uint64, to string, amount uint64) error
	DestroyAsset(ctx context.Context, signer Signer, assetID uint64) error
	DeleteApplication(ctx context.Context, signer Signer, appID uint64) error
}

// Reader queries confirmed ledger state. Lookups that find nothing return
// an error for which IsNotFound is true.
type Reader interface {
	GetAsset(ctx context.Context, assetID uint64) (*Asset, error)
	FindAsset(ctx context.Context, creator, note string) (*Asset, error)
	GetApplication(ctx context.Context, appID uint64) (*Application, error)
	FindApplication(ctx context.Context, creator, name string) (*Application, error)
	Balance(ctx context.Context, address string) (uint64, error)
	AssetHolding(ctx context.Context, address string, assetID uint64) (uint64, error)
}

// Client is the full capability set the provisioning workflow consumes
type Client interface {
	Submitter
	Reader
}
