package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] when the breaker has tripped and
// the cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log messages (e.g., "calendar").
	Name string

	// Trip is the number of consecutive failures before the breaker opens.
	// Default: 5.
	Trip int

	// Cooldown is how long the breaker rejects calls before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration
}

// Breaker is a consecutive-failure circuit breaker. After Trip failures in a
// row it rejects calls with [ErrBreakerOpen] for Cooldown; the first call
// after the cool-down is a probe whose outcome closes or re-opens the breaker.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

// NewBreaker creates a [Breaker]. Zero-value config fields use defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: cfg.Name, trip: cfg.Trip, cooldown: cfg.Cooldown}
}

// Do runs fn unless the breaker is open. fn's error both propagates to the
// caller and feeds the failure count.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.failures >= b.trip {
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		// Cool-down elapsed: let this call through as a probe.
		slog.Info("breaker probing", "breaker", b.name)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.failures >= b.trip {
			slog.Info("breaker closed", "breaker", b.name)
		}
		b.failures = 0
		return nil
	}
	b.failures++
	if b.failures == b.trip {
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "breaker", b.name, "failures", b.failures)
	} else if b.failures > b.trip {
		b.openedAt = time.Now()
	}
	return err
}
