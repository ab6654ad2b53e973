// Package retry wraps transient-failure-prone remote operations with
// bounded exponential backoff.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
)

// Config holds retry parameters for Do.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the base delay for exponential backoff.
	InitialDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// MaxElapsed bounds the total time spent inside Do, backoff
	// included. Zero means no elapsed-time bound.
	MaxElapsed time.Duration
	// OnRetry is an optional callback invoked before each retry.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns conservative defaults. The exact original tuning
// is not documented anywhere authoritative, so these lean cautious and
// every field is overridable from config.json.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     15 * time.Second,
		MaxElapsed:   2 * time.Minute,
	}
}

// Backoff returns the delay to sleep before the given retry (attempt 1 is
// the first retry), with full jitter to spread out synchronized retries.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	d := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Do runs op, retrying while the returned error is classified transient.
//
//   - Non-transient errors (authentication, validation, remote state,
//     scheduler rejection) are returned immediately.
//   - Success on any attempt returns nil.
//   - Exhausting MaxAttempts or MaxElapsed returns a
//     TransientNetworkError wrapping the last failure.
//   - Context cancellation is honored between attempts and during
//     backoff sleeps.
func Do(ctx context.Context, cfg Config, opName string, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if !errdefs.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.MaxElapsed > 0 && time.Since(start) >= cfg.MaxElapsed {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		select {
		case <-time.After(Backoff(attempt, cfg)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &errdefs.TransientNetworkError{Op: opName, Attempts: attempts, Err: lastErr}
}
