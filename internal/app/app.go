// Package app wires the configured ledger backend, workflow store and
// organizer lease into an orchestrator. Both binaries start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"provisioner/internal/config"
	"provisioner/internal/ledger"
	"provisioner/internal/ledger/gateway"
	"provisioner/internal/ledger/memory"
	"provisioner/internal/ledger/retry"
	"provisioner/internal/lock"
	"provisioner/internal/orchestrator"
	"provisioner/internal/storage"
)

// App holds the wired components. Close releases them.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Repository   storage.Repository
	Keyring      ledger.Keyring
	Ledger       ledger.Client

	closers []func() error
}

// New builds every component named by cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	keyring, err := ledger.ParseKeyring(cfg.SignerSeeds)
	if err != nil {
		return nil, err
	}

	a := &App{Keyring: keyring}

	a.Ledger = newLedger(cfg, keyring)

	repository, err := a.newRepository(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Repository = repository

	locker, err := a.newLocker(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Orchestrator = orchestrator.New(OrchestratorConfig(cfg), a.Ledger, repository, locker)
	return a, nil
}

// OrchestratorConfig maps the environment configuration onto the orchestrator's settings
func OrchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.Network = cfg.NetworkName
	oc.FundingReserve = cfg.FundingReserve
	oc.DefaultSaleWindow = cfg.DefaultSaleWindow
	oc.StepTimeout = cfg.StepTimeout
	oc.LockTTL = cfg.LockTTL
	oc.Custody = orchestrator.CustodyPolicy(cfg.CustodyPolicy)
	oc.SchemaVersion = cfg.AppSchemaVersion
	oc.Currency = cfg.Currency
	oc.CurrencyDecimals = cfg.CurrencyDecimals
	return oc
}

func newLedger(cfg *config.Config, keyring ledger.Keyring) ledger.Client {
	if cfg.LedgerBackend == config.BackendGateway {
		strategy := retry.NewStrategy(cfg.Retry)
		slog.Info("Using ledger gateway",
			"url", cfg.LedgerGatewayURL,
			"retry_strategy", strategy.Name(),
		)
		return gateway.New(gateway.Config{
			BaseURL:           cfg.LedgerGatewayURL,
			NetworkPassphrase: cfg.NetworkPassphrase,
			Timeout:           cfg.GatewayTimeout,
		}, strategy)
	}

	devnet := memory.New(memory.DefaultConfig(cfg.NetworkPassphrase))
	for _, addr := range keyring.Addresses() {
		devnet.Fund(addr, cfg.DevnetFunding)
	}
	slog.Warn("Using in-memory devnet ledger, state is lost on exit",
		"funded_accounts", len(keyring),
		"funding", cfg.DevnetFunding,
	)
	return devnet
}

func (a *App) newRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, workflows are kept in memory")
		return storage.NewMemoryRepository(), nil
	}

	repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, repository.Close)

	if err := repository.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("Database connected successfully")
	return repository, nil
}

func (a *App) newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		slog.Info("REDIS_ADDR not set, organizer leases are process local")
		return lock.NewLocalLocker(), nil
	}

	locker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	a.closers = append(a.closers, locker.Close)

	if err := locker.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Redis connected successfully", "addr", cfg.RedisAddr)
	return locker, nil
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("Failed to close component", "error", err)
		}
	}
	a.closers = nil
}

// SetupLogger installs the process-wide text logger at the given level
func SetupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
