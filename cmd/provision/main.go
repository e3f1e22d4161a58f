// Command provision runs provisioning workflows from the terminal against the
// configured ledger backend and workflow store.
//
//	provision create -name "Spring Gala" -seats 200 -price 2500000 -start 2027-01-15T19:00:00Z -organizer G...
//	provision resume <workflow-id>
//	provision abandon <workflow-id>
//	provision show <workflow-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"provisioner/internal/app"
	"provisioner/internal/config"
	"provisioner/internal/ledger"
	"provisioner/internal/models"
	"provisioner/internal/orchestrator"

	"github.com/joho/godotenv"
	"github.com/stellar/go/keypair"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: provision <create|resume|abandon|show> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	app.SetupLogger(cfg.LogLevel)

	// Interrupts stop between steps; the cursor stays resumable
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to start: %v", err)
	}
	defer components.Close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create":
		err = create(ctx, components, args)
	case "resume":
		err = resume(ctx, components, args)
	case "abandon":
		err = abandon(ctx, components, args)
	case "show":
		err = show(ctx, components, args)
	default:
		usage()
	}

	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(os.Stderr, "❌ Invalid request:")
			for _, v := range verr.Violations {
				fmt.Fprintf(os.Stderr, "  - %s\n", v)
			}
			os.Exit(1)
		}
		var stepErr *orchestrator.StepError
		if !errors.As(err, &stepErr) {
			// Step failures were already printed by the reporter
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		}
		os.Exit(1)
	}
}

// terminal prints workflow progress as it happens
type terminal struct{}

func (terminal) OnProgress(p orchestrator.Progress) {
	fmt.Printf("[%d/%d] %s\n", p.Completed, p.Total, p.Message)
}

func (terminal) OnError(message string) {
	fmt.Fprintf(os.Stderr, "❌ %s\n", message)
}

func (terminal) OnSuccess(summary string, _ *models.ProvisionResult) {
	fmt.Printf("\n✅ %s\n", summary)
}

func create(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var (
		name      = fs.String("name", "", "Event name")
		seats     = fs.Int64("seats", 0, "Number of seats (ticket supply)")
		price     = fs.Int64("price", 0, "Ticket price in the smallest currency unit")
		start     = fs.String("start", "", "Sale start (RFC 3339)")
		end       = fs.String("end", "", "Sale end (RFC 3339, default start + DEFAULT_SALE_WINDOW)")
		perWallet = fs.Int64("cap", 1, "Maximum tickets per wallet")
		organizer = fs.String("organizer", "", "Organizer address (defaults to the -seed account)")
		seed      = fs.String("seed", os.Getenv("ORGANIZER_SEED"), "Organizer secret seed, overrides SIGNER_SEEDS")
		key       = fs.String("key", "", "Idempotency key")
	)
	_ = fs.Parse(args)

	signer, address, err := resolveSigner(a.Keyring, *seed, *organizer)
	if err != nil {
		return err
	}

	req := &models.DeploymentRequest{
		EventName:    *name,
		SeatCount:    *seats,
		UnitPrice:    *price,
		PerWalletCap: *perWallet,
		Organizer:    address,
		Signer:       signer,
	}
	if req.SaleStart, err = parseTime(*start); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if req.SaleEnd, err = parseTime(*end); err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}

	_, err = a.Orchestrator.Provision(ctx, req, orchestrator.Options{IdempotencyKey: *key}, terminal{})
	return err
}

func resume(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	seed := fs.String("seed", os.Getenv("ORGANIZER_SEED"), "Organizer secret seed, overrides SIGNER_SEEDS")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("resume takes exactly one workflow id")
	}

	wf, err := a.Orchestrator.Workflow(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	signer, _, err := resolveSigner(a.Keyring, *seed, wf.Organizer)
	if err != nil {
		return err
	}

	fmt.Printf("Resuming %s after %s\n", wf.ID, wf.Completed)
	_, err = a.Orchestrator.Resume(ctx, wf.ID, signer, terminal{})
	return err
}

func abandon(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("abandon", flag.ExitOnError)
	seed := fs.String("seed", os.Getenv("ORGANIZER_SEED"), "Organizer secret seed, overrides SIGNER_SEEDS")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("abandon takes exactly one workflow id")
	}

	wf, err := a.Orchestrator.Workflow(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	signer, _, err := resolveSigner(a.Keyring, *seed, wf.Organizer)
	if err != nil {
		return err
	}

	wf, err = a.Orchestrator.Abandon(ctx, wf.ID, signer)
	if err != nil {
		return err
	}
	fmt.Printf("🗑️  Workflow %s abandoned (asset %d, application %d)\n", wf.ID, wf.Artifacts.AssetID, wf.Artifacts.AppID)
	return nil
}

func show(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show takes exactly one workflow id")
	}

	snap, err := a.Orchestrator.Inspect(ctx, args[0])
	if err != nil {
		return err
	}
	wf := snap.Workflow

	fmt.Printf("Workflow:  %s\n", wf.ID)
	fmt.Printf("Event:     %s\n", wf.Request.EventName)
	fmt.Printf("Organizer: %s\n", wf.Organizer)
	fmt.Printf("Status:    %s (completed %s)\n", wf.Status, wf.Completed)
	if wf.LastError != "" {
		fmt.Printf("Error:     %s at %s\n", wf.LastError, wf.FailedStep)
	}
	if snap.Asset != nil {
		fmt.Printf("Asset:     %d %s, %d units, clawback %s\n",
			snap.Asset.AssetID, snap.Asset.UnitName, snap.Asset.Total, snap.Asset.Clawback)
	}
	if snap.Contract != nil {
		fmt.Printf("Contract:  %d at %s\n", snap.Contract.AppID, snap.Contract.Address)
	}
	return nil
}

// resolveSigner picks the signing capability for organizer from an explicit
// seed or the keyring. An empty organizer means the seed's own address.
func resolveSigner(keyring ledger.Keyring, seed, organizer string) (ledger.Signer, string, error) {
	if seed != "" {
		kp, err := keypair.ParseFull(seed)
		if err != nil {
			return nil, "", fmt.Errorf("invalid organizer seed: %w", err)
		}
		if organizer == "" {
			organizer = kp.Address()
		}
		return kp, organizer, nil
	}
	// A missing keyring entry is reported by validation
	return keyring.Signer(organizer), organizer, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
