// Package resilience provides the retry and circuit-breaker primitives that
// guard Reservoir's ancillary endpoints.
//
// The embedding endpoint is the main consumer: its failures are non-fatal to
// a request, so the goal here is to stop hammering a dead endpoint quickly
// ([Breaker]) while smoothing over transient blips ([Retry]).
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration
}

// Breaker is a two-and-a-half-state circuit breaker: closed, open, and a
// single-probe half-open window after the cooldown. A probe success closes
// the breaker; a probe failure restarts the cooldown.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker], replacing zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: cfg.Name, threshold: cfg.Threshold, cooldown: cfg.Cooldown}
}

// Do runs fn unless the breaker is open. While open, calls fail immediately
// with [ErrOpen] until the cooldown elapses, after which exactly one call is
// let through as a probe.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.failures >= b.threshold {
		if time.Since(b.openedAt) < b.cooldown || b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
		slog.Info("breaker probing", "name", b.name)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err != nil {
		b.failures++
		if b.failures == b.threshold {
			b.openedAt = time.Now()
			slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
		} else if b.failures > b.threshold {
			// Failed probe: restart the cooldown.
			b.openedAt = time.Now()
		}
		return err
	}
	if b.failures >= b.threshold {
		slog.Info("breaker closed", "name", b.name)
	}
	b.failures = 0
	return nil
}

// Open reports whether calls would currently be rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.threshold && (time.Since(b.openedAt) < b.cooldown || b.probing)
}
