package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"provisioner/internal/ledger"
	"provisioner/internal/metrics"
)

// ExponentialBackoffStrategy retries transient query failures, doubling the
// pause after each attempt up to maxDelay
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// Execute runs operation until it succeeds, fails permanently or the retry
// budget is spent. The last error is returned wrapped, so ledger codes survive.
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = operation(); err == nil {
			if attempt > 0 {
				slog.Info("Ledger query recovered", "attempts", attempt+1)
			}
			return nil
		}

		if !Retryable(err) {
			return err
		}
		if attempt == s.maxRetries {
			return fmt.Errorf("ledger query failed after %d attempts: %w", attempt+1, err)
		}

		delay := s.backoff(attempt)
		metrics.LedgerQueryRetries.Inc()
		slog.Warn("Ledger query failed, retrying",
			"attempt", attempt+1,
			"max_attempts", s.maxRetries+1,
			"retry_in", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("gave up retrying ledger query: %w", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// backoff is the pause after the given zero-based attempt
func (s *ExponentialBackoffStrategy) backoff(attempt int) time.Duration {
	delay := s.initialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return min(delay, s.maxDelay)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// Retryable reports whether a failed query is worth issuing again. Ledger
// errors decide by code: only an unreachable ledger is transient. Anything
// else must be a network-level failure.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var le *ledger.Error
	if errors.As(err, &le) {
		return le.Code == ledger.CodeUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
