// Package resilience provides the bounded-retry and circuit-breaker
// primitives that guard Driveline's upstream connections.
//
// STT/TTS sockets reconnect through [Retry] (3 attempts, exponential backoff
// starting at one second with factor 1.5); slow HTTP upstreams (calendar,
// VIN decode) sit behind a [Breaker] so a dead service fails fast instead of
// eating the per-turn latency budget.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds a [Retry] loop.
type RetryConfig struct {
	// Name labels log messages (e.g., "stt.connect").
	Name string

	// Attempts is the total number of tries. Default: 3.
	Attempts int

	// InitialBackoff is the delay after the first failure. Default: 1s.
	InitialBackoff time.Duration

	// Factor multiplies the backoff after each failure. Default: 1.5.
	Factor float64
}

func (c *RetryConfig) defaults() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.Factor <= 1 {
		c.Factor = 1.5
	}
}

// Retry runs fn up to cfg.Attempts times with exponential backoff between
// failures. It returns nil on the first success, the last error once the
// attempts are exhausted, and ctx.Err() if the context is cancelled while
// waiting to retry.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.defaults()

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		slog.Warn("retrying after failure",
			"op", cfg.Name,
			"attempt", attempt,
			"backoff", backoff,
			"err", lastErr,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * cfg.Factor)
	}
	return fmt.Errorf("resilience: %s failed after %d attempts: %w", cfg.Name, cfg.Attempts, lastErr)
}
