package retry

import "time"

// Config holds retry configuration for read-only ledger queries.
// Parsed from the environment with the RETRY_ prefix.
type Config struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`       // Enable/disable retry mechanism
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"5"`      // Maximum number of retry attempts
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"500ms"` // Delay before first retry
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"10s"`      // Maximum delay between retries
}
