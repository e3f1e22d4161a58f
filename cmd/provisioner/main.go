package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"provisioner/internal/api"
	"provisioner/internal/app"
	"provisioner/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🎟️  Starting Event Provisioner...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// 2. Configure logger
	app.SetupLogger(cfg.LogLevel)

	slog.Info("Configuration loaded",
		"backend", cfg.LedgerBackend,
		"network", cfg.NetworkName,
		"custody", cfg.CustodyPolicy,
		"step_timeout", cfg.StepTimeout,
		"log_level", cfg.LogLevel,
	)

	// 3. Wire ledger, storage and leases
	ctx := context.Background()
	components, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to start: %v", err)
	}
	defer components.Close()

	if len(components.Keyring) == 0 {
		slog.Warn("SIGNER_SEEDS is empty, every provisioning request will be rejected")
	}

	// 4. Start API server
	server := api.NewServer(cfg.APIPort, components.Orchestrator, components.Repository, components.Keyring)
	if err := server.Start(); err != nil {
		log.Fatalf("❌ Failed to start API server: %v", err)
	}

	// 5. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Warn("Interrupt received, shutting down...")

	// In-flight workflows persist their cursor after every step, so a cut
	// short request can be resumed after restart
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StepTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}

	slog.Info("Provisioner stopped")
}
