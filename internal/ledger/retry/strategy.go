package retry

import (
	"context"
	"log/slog"
)

// Strategy decides how often a read-only ledger query is attempted.
// Submissions never go through a Strategy: re-issuing one blindly could
// apply it twice, so their failures surface to the orchestrator instead.
type Strategy interface {
	Execute(ctx context.Context, query Operation) error
	Name() string
}

// Operation is a single query attempt
type Operation func() error

// NewStrategy picks the strategy described by config
func NewStrategy(config Config) Strategy {
	if !config.Enabled || config.MaxRetries <= 0 {
		slog.Info("Ledger query retries disabled")
		return NoRetryStrategy{}
	}

	slog.Info("Ledger query retries enabled",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)
	return NewExponentialBackoffStrategy(config.MaxRetries, config.InitialDelay, config.MaxDelay)
}

// NoRetryStrategy attempts each query once
type NoRetryStrategy struct{}

func (NoRetryStrategy) Execute(ctx context.Context, query Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return query()
}

func (NoRetryStrategy) Name() string {
	return "NoRetry"
}
