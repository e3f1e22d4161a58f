package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/ledger/memory"
	"provisioner/internal/lock"
	"provisioner/internal/metrics"
	"provisioner/internal/models"
	"provisioner/internal/storage"

	"github.com/stellar/go/keypair"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var saleStart = time.Unix(1_800_000_000, 0).UTC()

type fixture struct {
	orch      *Orchestrator
	ledger    *memory.Ledger
	repo      *storage.MemoryRepository
	locker    *lock.LocalLocker
	organizer *keypair.Full
}

func newFixture(t *testing.T, funds uint64, tune ...func(*Config)) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.StepTimeout = 5 * time.Second
	for _, fn := range tune {
		fn(&cfg)
	}

	f := &fixture{
		ledger:    memory.New(memory.DefaultConfig(network.TestNetworkPassphrase)),
		repo:      storage.NewMemoryRepository(),
		locker:    lock.NewLocalLocker(),
		organizer: keypair.MustRandom(),
	}
	f.ledger.Fund(f.organizer.Address(), funds)
	f.orch = New(cfg, f.ledger, f.repo, f.locker)
	return f
}

func (f *fixture) request() *models.DeploymentRequest {
	return &models.DeploymentRequest{
		EventName:    "Spring Gala",
		SeatCount:    200,
		UnitPrice:    2_500_000,
		SaleStart:    saleStart,
		PerWalletCap: 2,
		Organizer:    f.organizer.Address(),
		Signer:       f.organizer,
	}
}

func count(calls []string, op string) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}

type recorder struct {
	progress []Progress
	errors   []string
	summary  string
	result   *models.ProvisionResult
}

func (r *recorder) OnProgress(p Progress)  { r.progress = append(r.progress, p) }
func (r *recorder) OnError(message string) { r.errors = append(r.errors, message) }
func (r *recorder) OnSuccess(summary string, result *models.ProvisionResult) {
	r.summary, r.result = summary, result
}

func TestProvision_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	org := f.organizer.Address()
	rec := &recorder{}

	result, err := f.orch.Provision(ctx, f.request(), Options{}, rec)
	require.NoError(t, err)
	calls := f.ledger.Calls()

	assets := f.ledger.Assets()
	require.Len(t, assets, 1)
	asset := assets[0]
	assert.Equal(t, uint64(200), asset.Total)
	assert.Equal(t, uint32(0), asset.Decimals)
	assert.False(t, asset.DefaultFrozen)
	assert.Equal(t, "TICKET", asset.UnitName)
	assert.Equal(t, "Spring Gala", asset.AssetName)

	apps := f.ledger.Applications()
	require.Len(t, apps, 1)
	app := apps[0]
	assert.Equal(t, ledger.BootstrapArgs{
		AssetID:      asset.ID,
		Price:        2_500_000,
		Start:        uint64(saleStart.Unix()),
		End:          uint64(saleStart.Unix()) + 2_592_000,
		PerWalletCap: 2,
		Organizer:    org,
	}, app.Bootstrap)

	// Clawback moved to the contract, every other role stays with the organizer
	assert.Equal(t, ledger.Authorities{Manager: org, Reserve: org, Freeze: org, Clawback: app.Address}, asset.Authorities)

	funded, err := f.ledger.Balance(ctx, app.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), funded)

	held, err := f.ledger.AssetHolding(ctx, org, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), held)

	assert.Equal(t, asset.ID, result.AssetID)
	assert.Equal(t, app.ID, result.AppID)
	assert.Equal(t, app.Address, result.AppAddress)
	assert.Equal(t, ledger.ApplicationAddress(app.ID), result.AppAddress)

	assert.Equal(t, []string{
		ledger.OpFindAsset, ledger.OpCreateAsset,
		ledger.OpFindApplication, ledger.OpDeployApplication,
		ledger.OpBalance, ledger.OpTransferNative,
		ledger.OpGetAsset, ledger.OpReconfigureAsset,
		ledger.OpAssetHolding, ledger.OpTransferAsset,
	}, calls)

	require.Len(t, rec.progress, len(models.Steps))
	for i, p := range rec.progress {
		assert.Equal(t, models.Steps[i], p.Step)
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 6, p.Total)
	}
	assert.Empty(t, rec.errors)
	assert.Equal(t, result, rec.result)
	assert.Contains(t, rec.summary, "- Ticket Price: 2.500000 ALGO")
	assert.Contains(t, rec.summary, "- Seats Available: 200")
	assert.Contains(t, rec.summary, "- App Address: "+app.Address)

	wf, err := f.repo.GetWorkflow(ctx, result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, wf.Status)
	assert.Equal(t, models.StepFinalize, wf.Completed)
	assert.Equal(t, saleStart.Add(30*24*time.Hour), wf.Request.SaleEnd, "resolved sale end is stored")

	events, err := f.repo.ListWorkflowEvents(ctx, wf.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, events, 7)
	assert.Equal(t, models.EventSuccess, events[6].Kind)
}

func TestProvision_ValidationMakesNoLedgerCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	rec := &recorder{}

	req := f.request()
	req.SeatCount = 0
	req.SaleEnd = req.SaleStart
	req.Organizer = ""
	req.Signer = nil

	_, err := f.orch.Provision(ctx, req, Options{}, rec)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"sale start must be before sale end",
		"seat count must be at least 1",
		"organizer address is required",
		"a signing capability must be bound",
	}, verr.Violations)
	assert.Empty(t, f.ledger.Calls())
	assert.Len(t, rec.errors, 1)

	n, err := f.repo.CountWorkflows(ctx, storage.WorkflowFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProvision_RejectsWindowsTheContractCannotStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)

	preEpoch := f.request()
	preEpoch.SaleStart = time.Date(1969, time.July, 20, 20, 17, 0, 0, time.UTC)

	subSecond := f.request()
	subSecond.SaleStart = saleStart.Add(100 * time.Millisecond)
	subSecond.SaleEnd = saleStart.Add(900 * time.Millisecond)

	for _, req := range []*models.DeploymentRequest{preEpoch, subSecond} {
		_, err := f.orch.Provision(ctx, req, Options{}, nil)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	}
	assert.Empty(t, f.ledger.Calls(), "no asset is minted for an unstorable window")
}

func TestProvision_FundingFailure(t *testing.T) {
	ctx := context.Background()
	// Enough for the asset and the contract, not for the reserve transfer
	f := newFixture(t, 600_000)
	rec := &recorder{}
	errorsBefore := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("orchestrator"))

	_, err := f.orch.Provision(ctx, f.request(), Options{}, rec)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, models.StepFundContract, stepErr.Step)
	assert.Equal(t, OutcomeFailed, stepErr.Outcome)
	assert.Equal(t, errorsBefore+1, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("orchestrator")))
	assert.Equal(t, ledger.CodeInsufficientBalance, ledger.CodeOf(err))
	assert.NotZero(t, stepErr.Artifacts.AssetID)
	assert.NotZero(t, stepErr.Artifacts.AppID)

	calls := f.ledger.Calls()
	assert.Zero(t, count(calls, ledger.OpReconfigureAsset), "no clawback reassignment")
	assert.Zero(t, count(calls, ledger.OpTransferAsset), "no supply transfer")

	asset := f.ledger.Assets()[0]
	assert.Equal(t, f.organizer.Address(), asset.Authorities.Clawback)

	require.Len(t, rec.errors, 1)
	report := rec.errors[0]
	assert.Contains(t, report, "step 3 (fund_contract)")
	assert.Contains(t, report, "Completed: create_asset, deploy_contract.")
	assert.Contains(t, report, "Nothing was rolled back.")

	wf, err := f.repo.GetWorkflow(ctx, stepErr.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, wf.Status)
	assert.Equal(t, models.StepDeployContract, wf.Completed)
	assert.Equal(t, models.StepFundContract, wf.FailedStep)

	// Topping the organizer up lets the workflow resume from step 3
	f.ledger.Fund(f.organizer.Address(), 1_000_000)
	result, err := f.orch.Resume(ctx, wf.ID, f.organizer, nil)
	require.NoError(t, err)
	assert.Equal(t, stepErr.Artifacts.AssetID, result.AssetID)
	assert.Equal(t, stepErr.Artifacts.AppID, result.AppID)

	calls = f.ledger.Calls()
	assert.Equal(t, 1, count(calls, ledger.OpCreateAsset))
	assert.Equal(t, 1, count(calls, ledger.OpDeployApplication))
	assert.Len(t, f.ledger.Applications(), 1)
}

func TestProvision_DeployFailureReportsAssetOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	f.ledger.FailNext(ledger.OpDeployApplication, ledger.Errorf(ledger.CodeMalformed, "bootstrap rejected"))

	_, err := f.orch.Provision(ctx, f.request(), Options{}, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, models.StepDeployContract, stepErr.Step)
	assert.Equal(t, OutcomeFailed, stepErr.Outcome)
	assert.NotZero(t, stepErr.Artifacts.AssetID)
	assert.Zero(t, stepErr.Artifacts.AppID)
	assert.Empty(t, stepErr.Artifacts.AppAddress)
	assert.Contains(t, stepErr.Report(), "Already on the ledger: asset ")
	assert.NotContains(t, stepErr.Report(), "application")
}

func TestProvision_AmbiguousCreateIsReconciled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	f.ledger.LoseConfirmationNext(ledger.OpCreateAsset)

	_, err := f.orch.Provision(ctx, f.request(), Options{IdempotencyKey: "gala-1"}, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, models.StepCreateAsset, stepErr.Step)
	assert.True(t, stepErr.Ambiguous())
	assert.Contains(t, stepErr.Report(), "resuming checks the ledger")
	require.Len(t, f.ledger.Assets(), 1, "the asset landed despite the error")

	wf, err := f.repo.GetWorkflowByKey(ctx, "gala-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAmbiguous, wf.Status)

	// Retrying with the same key finds the asset instead of minting another
	result, err := f.orch.Provision(ctx, f.request(), Options{IdempotencyKey: "gala-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, result.WorkflowID)
	assert.Equal(t, f.ledger.Assets()[0].ID, result.AssetID)
	assert.Len(t, f.ledger.Assets(), 1)
	assert.Equal(t, 1, count(f.ledger.Calls(), ledger.OpCreateAsset))
}

func TestProvision_AmbiguousFundingIsNotRepeated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	f.ledger.LoseConfirmationNext(ledger.OpTransferNative)

	_, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, models.StepFundContract, stepErr.Step)
	assert.True(t, stepErr.Ambiguous())

	_, err = f.orch.Resume(ctx, stepErr.WorkflowID, f.organizer, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, count(f.ledger.Calls(), ledger.OpTransferNative))
	balance, err := f.ledger.Balance(ctx, stepErr.Artifacts.AppAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), balance)
}

// slowLedger never confirms native transfers before the deadline
type slowLedger struct {
	*memory.Ledger
}

func (s slowLedger) TransferNative(ctx context.Context, signer ledger.Signer, to string, amount uint64) error {
	<-ctx.Done()
	return ledger.AmbiguousError(ledger.OpTransferNative, ctx.Err())
}

func TestProvision_StepTimeoutIsAmbiguous(t *testing.T) {
	f := newFixture(t, 10_000_000, func(c *Config) { c.StepTimeout = 20 * time.Millisecond })
	orch := New(f.orch.Config(), slowLedger{f.ledger}, f.repo, f.locker)

	_, err := orch.Provision(context.Background(), f.request(), Options{}, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, models.StepFundContract, stepErr.Step)
	assert.Equal(t, OutcomeAmbiguous, stepErr.Outcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvision_Idempotency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)

	first, err := f.orch.Provision(ctx, f.request(), Options{IdempotencyKey: "k1"}, nil)
	require.NoError(t, err)
	before := len(f.ledger.Calls())

	rec := &recorder{}
	again, err := f.orch.Provision(ctx, f.request(), Options{IdempotencyKey: "k1"}, rec)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, f.ledger.Calls(), before, "a finished workflow is not re-run")
	assert.NotEmpty(t, rec.summary)

	changed := f.request()
	changed.SeatCount = 300
	_, err = f.orch.Provision(ctx, changed, Options{IdempotencyKey: "k1"}, nil)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestProvision_BusyOrganizer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)

	lease, err := f.locker.Acquire(ctx, "organizer:"+f.organizer.Address(), time.Minute)
	require.NoError(t, err)

	_, err = f.orch.Provision(ctx, f.request(), Options{}, nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, f.ledger.Calls())

	require.NoError(t, lease.Release(ctx))
	_, err = f.orch.Provision(ctx, f.request(), Options{}, nil)
	assert.NoError(t, err)
}

// pacedLedger slows asset creation and deployment down by delay and runs
// a hook at the start of the named submissions
type pacedLedger struct {
	*memory.Ledger
	delay time.Duration
	hooks map[string]func()
}

func (p pacedLedger) before(op string) {
	if hook := p.hooks[op]; hook != nil {
		hook()
	}
}

func (p pacedLedger) CreateAsset(ctx context.Context, signer ledger.Signer, params ledger.AssetParams) (uint64, error) {
	time.Sleep(p.delay)
	p.before(ledger.OpCreateAsset)
	return p.Ledger.CreateAsset(ctx, signer, params)
}

func (p pacedLedger) DeployApplication(ctx context.Context, signer ledger.Signer, spec ledger.AppSpec) (*ledger.DeployResult, error) {
	time.Sleep(p.delay)
	p.before(ledger.OpDeployApplication)
	return p.Ledger.DeployApplication(ctx, signer, spec)
}

func (p pacedLedger) ReconfigureAsset(ctx context.Context, signer ledger.Signer, assetID uint64, authorities ledger.Authorities) error {
	p.before(ledger.OpReconfigureAsset)
	return p.Ledger.ReconfigureAsset(ctx, signer, assetID, authorities)
}

func TestProvision_LeaseIsRenewedEveryStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000, func(c *Config) {
		c.StepTimeout = 200 * time.Millisecond
		c.LockTTL = 200 * time.Millisecond
	})

	// Steps 1 and 2 together take longer than one lease
	var contender error
	paced := pacedLedger{Ledger: f.ledger, delay: 150 * time.Millisecond, hooks: map[string]func(){
		ledger.OpReconfigureAsset: func() {
			_, contender = f.orch.Provision(ctx, f.request(), Options{}, nil)
		},
	}}
	orch := New(f.orch.Config(), paced, f.repo, f.locker)

	_, err := orch.Provision(ctx, f.request(), Options{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, contender, ErrBusy)
	assert.Len(t, f.ledger.Assets(), 1)
}

func TestProvision_StopsWhenLeaseIsLost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000, func(c *Config) { c.LockTTL = 50 * time.Millisecond })
	key := "organizer:" + f.organizer.Address()

	var stolen lock.Lease
	paced := pacedLedger{Ledger: f.ledger, hooks: map[string]func(){
		ledger.OpDeployApplication: func() {
			time.Sleep(80 * time.Millisecond)
			var err error
			stolen, err = f.locker.Acquire(ctx, key, time.Minute)
			require.NoError(t, err, "the expired lease can be taken over")
		},
	}}
	orch := New(f.orch.Config(), paced, f.repo, f.locker)
	rec := &recorder{}

	_, err := orch.Provision(ctx, f.request(), Options{}, rec)
	require.ErrorIs(t, err, ErrLeaseLost)
	assert.Zero(t, count(f.ledger.Calls(), ledger.OpTransferNative), "no step runs without the lease")
	assert.Len(t, rec.errors, 1)

	workflows, err := f.repo.ListWorkflows(ctx, storage.WorkflowFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, models.StepDeployContract, workflows[0].Completed)

	require.NoError(t, stolen.Release(ctx))
	result, err := f.orch.Resume(ctx, workflows[0].ID, f.organizer, nil)
	require.NoError(t, err)
	assert.Equal(t, workflows[0].Artifacts.AppID, result.AppID)
}

func TestResume_RequiresOrganizerSigner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600_000)

	_, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)

	_, err = f.orch.Resume(ctx, stepErr.WorkflowID, keypair.MustRandom(), nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"signer does not control the organizer address"}, verr.Violations)

	_, err = f.orch.Resume(ctx, "missing", f.organizer, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAbandon_CleansUpArtifacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600_000)

	_, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)

	wf, err := f.orch.Abandon(ctx, stepErr.WorkflowID, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, wf.Status)
	assert.Empty(t, f.ledger.Applications())
	assert.Empty(t, f.ledger.Assets())

	again, err := f.orch.Abandon(ctx, wf.ID, f.organizer)
	require.NoError(t, err, "abandoning twice is a no-op")
	assert.Equal(t, models.StatusAbandoned, again.Status)

	_, err = f.orch.Resume(ctx, wf.ID, f.organizer, nil)
	assert.ErrorIs(t, err, ErrWorkflowAbandoned)

	events, err := f.repo.ListWorkflowEvents(ctx, wf.ID, 100, 0)
	require.NoError(t, err)
	var messages []string
	for _, e := range events {
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "deleted")
	assert.Contains(t, joined, "destroyed")
}

func TestAbandon_ReconcilesUnrecordedAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)
	f.ledger.LoseConfirmationNext(ledger.OpCreateAsset)

	_, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Zero(t, stepErr.Artifacts.AssetID)

	wf, err := f.orch.Abandon(ctx, stepErr.WorkflowID, f.organizer)
	require.NoError(t, err)
	assert.NotZero(t, wf.Artifacts.AssetID)
	assert.Empty(t, f.ledger.Assets())
}

func TestAbandon_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)

	result, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	require.NoError(t, err)

	_, err = f.orch.Abandon(ctx, result.WorkflowID, f.organizer)
	assert.ErrorIs(t, err, ErrWorkflowSucceeded)

	_, err = f.orch.Abandon(ctx, result.WorkflowID, keypair.MustRandom())
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestProvision_ContractCustody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000, func(c *Config) { c.Custody = CustodyContract })

	result, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	require.NoError(t, err)

	held, err := f.ledger.AssetHolding(ctx, result.AppAddress, result.AssetID)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), held)

	held, err = f.ledger.AssetHolding(ctx, f.organizer.Address(), result.AssetID)
	require.NoError(t, err)
	assert.Zero(t, held)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10_000_000)

	result, err := f.orch.Provision(ctx, f.request(), Options{}, nil)
	require.NoError(t, err)

	snap, err := f.orch.Inspect(ctx, result.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, snap.Asset)
	require.NotNil(t, snap.Contract)
	assert.Equal(t, result.AppAddress, snap.Asset.Clawback)
	assert.Equal(t, result.AssetID, snap.Contract.AssetID)
	assert.Equal(t, uint64(2_500_000), snap.Contract.UnitPrice)

	_, err = f.orch.Inspect(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAssetNameTruncation(t *testing.T) {
	assert.Equal(t, "Gala", assetName("Gala"))
	long := strings.Repeat("é", 20) // 40 bytes
	got := assetName(long)
	assert.LessOrEqual(t, len(got), maxAssetNameLen)
	assert.Equal(t, strings.Repeat("é", 16), got)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "2.500000", FormatAmount(2_500_000, 6))
	assert.Equal(t, "0.000000", FormatAmount(0, 6))
	assert.Equal(t, "0.0000001", FormatAmount(1, 7))
}
