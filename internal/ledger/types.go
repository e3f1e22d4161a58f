package ledger

// Authorities are the four role addresses attached to a fungible asset.
// An empty address means the role is disabled.
type Authorities struct {
	Manager  string `json:"manager"`
	Reserve  string `json:"reserve"`
	Freeze   string `json:"freeze"`
	Clawback string `json:"clawback"`
}

// SingleAuthority binds every role to the same address
func SingleAuthority(address string) Authorities {
	return Authorities{
		Manager:  address,
		Reserve:  address,
		Freeze:   address,
		Clawback: address,
	}
}

// AssetParams describes a fungible asset to be minted
type AssetParams struct {
	Total         uint64      `json:"total"`
	Decimals      uint32      `json:"decimals"`
	DefaultFrozen bool        `json:"default_frozen"`
	UnitName      string      `json:"unit_name"`
	AssetName     string      `json:"asset_name"`
	Note          string      `json:"note,omitempty"`
	Authorities   Authorities `json:"authorities"`
}

// Asset is a minted asset as recorded on the ledger
type Asset struct {
	ID      uint64 `json:"id"`
	Creator string `json:"creator"`
	AssetParams
}

// BootstrapArgs seed the persistent state of a ticketing application
type BootstrapArgs struct {
	AssetID      uint64 `json:"asset_id"`
	Price        uint64 `json:"price"`
	Start        uint64 `json:"start"`
	End          uint64 `json:"end"`
	PerWalletCap uint64 `json:"per_wallet_cap"`
	Organizer    string `json:"organizer"`
}

// UpdateAction tells the ledger what to do when an application with the
// same name already exists but differs from the requested one
type UpdateAction string

const (
	// UpdateAppend leaves the existing instance alone and creates a new one
	UpdateAppend UpdateAction = "append"
	// UpdateFail rejects the deployment
	UpdateFail UpdateAction = "fail"
)

// UpdatePolicy selects the action for schema breaks and code/parameter updates.
// There is intentionally no in-place replacement action.
type UpdatePolicy struct {
	OnSchemaBreak UpdateAction `json:"on_schema_break"`
	OnUpdate      UpdateAction `json:"on_update"`
}

// AppendPolicy never touches an existing deployment
var AppendPolicy = UpdatePolicy{OnSchemaBreak: UpdateAppend, OnUpdate: UpdateAppend}

// AppSpec describes an application deployment
type AppSpec struct {
	Name          string        `json:"name"`
	SchemaVersion uint32        `json:"schema_version"`
	Bootstrap     BootstrapArgs `json:"bootstrap"`
	Policy        UpdatePolicy  `json:"policy"`
}

// Application is a deployed stateful application
type Application struct {
	ID            uint64        `json:"id"`
	Address       string        `json:"address"`
	Creator       string        `json:"creator"`
	Name          string        `json:"name"`
	SchemaVersion uint32        `json:"schema_version"`
	Bootstrap     BootstrapArgs `json:"bootstrap"`
}

// Compatible reports whether the application can serve the given spec as-is
func (a *Application) Compatible(spec AppSpec) bool {
	return a.SchemaVersion == spec.SchemaVersion && a.Bootstrap == spec.Bootstrap
}

// DeployOperation records what a deployment actually did
type DeployOperation string

const (
	DeployCreated  DeployOperation = "create"
	DeployReused   DeployOperation = "reuse"
	DeployAppended DeployOperation = "append"
)

// DeployResult is returned by DeployApplication
type DeployResult struct {
	Application
	Operation DeployOperation `json:"operation"`
}
