package config

import (
	"fmt"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/ledger/retry"

	"github.com/caarlos0/env/v11"
	"github.com/stellar/go/network"
)

// Ledger backends
const (
	BackendMemory  = "memory"
	BackendGateway = "gateway"
)

type Config struct {
	// Ledger backend: "gateway" talks to LEDGER_GATEWAY_URL, "memory" runs an in-process devnet
	LedgerBackend    string `env:"LEDGER_BACKEND" envDefault:"memory"`
	LedgerGatewayURL string `env:"LEDGER_GATEWAY_URL"`
	// Network passphrase bound into every signed payload
	NetworkPassphrase string `env:"NETWORK_PASSPHRASE" envDefault:"Test SDF Network ; September 2015"`
	// Human readable network name used in success summaries
	NetworkName    string        `env:"NETWORK_NAME" envDefault:"testnet"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`

	// Empty DATABASE_URL keeps workflows in memory
	DatabaseURL string `env:"DATABASE_URL"`
	// Empty REDIS_ADDR uses an in-process lease
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Workflow settings
	FundingReserve    uint64        `env:"FUNDING_RESERVE" envDefault:"500000"`
	DefaultSaleWindow time.Duration `env:"DEFAULT_SALE_WINDOW" envDefault:"720h"`
	StepTimeout       time.Duration `env:"STEP_TIMEOUT" envDefault:"60s"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"10m"`
	CustodyPolicy     string        `env:"CUSTODY_POLICY" envDefault:"organizer"`
	AppSchemaVersion  uint32        `env:"APP_SCHEMA_VERSION" envDefault:"1"`
	Currency          string        `env:"CURRENCY" envDefault:"ALGO"`
	CurrencyDecimals  int32         `env:"CURRENCY_DECIMALS" envDefault:"6"`

	// Organizer secret seeds the service may sign with
	SignerSeeds []string `env:"SIGNER_SEEDS" envSeparator:","`
	// Devnet only: native balance granted to each keyring account at startup
	DevnetFunding uint64 `env:"DEVNET_FUNDING" envDefault:"100000000"`

	// API Server
	APIPort int `env:"API_PORT" envDefault:"2112"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Retry configuration for ledger queries
	Retry retry.Config `envPrefix:"RETRY_"`
}

// Load returns the configuration parsed from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case BackendMemory:
		if c.IsPublicNetwork() {
			return fmt.Errorf("the memory backend cannot sign for the public network")
		}
	case BackendGateway:
		if c.LedgerGatewayURL == "" {
			return fmt.Errorf("LEDGER_GATEWAY_URL is required for the gateway backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("NETWORK_PASSPHRASE is required")
	}
	if c.FundingReserve == 0 {
		return fmt.Errorf("FUNDING_RESERVE must be positive")
	}
	if c.DefaultSaleWindow <= 0 {
		return fmt.Errorf("DEFAULT_SALE_WINDOW must be positive")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT must be positive")
	}
	if c.LockTTL < c.StepTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must be at least STEP_TIMEOUT (%s)", c.LockTTL, c.StepTimeout)
	}
	if c.CustodyPolicy != "organizer" && c.CustodyPolicy != "contract" {
		return fmt.Errorf("CUSTODY_POLICY must be organizer or contract, got %q", c.CustodyPolicy)
	}
	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 19 {
		return fmt.Errorf("CURRENCY_DECIMALS out of range")
	}
	if _, err := ledger.ParseKeyring(c.SignerSeeds); err != nil {
		return fmt.Errorf("invalid SIGNER_SEEDS: %w", err)
	}
	return nil
}

// IsPublicNetwork reports whether the configured passphrase is the public network
func (c *Config) IsPublicNetwork() bool {
	return c.NetworkPassphrase == network.PublicNetworkPassphrase
}
