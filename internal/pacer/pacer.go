// Package pacer implements adaptive inter-request pacing. The pacer widens
// its delay exponentially after failures and narrows it gradually after
// successes, providing soft backpressure against hostile or struggling sites.
package pacer

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/config"
)

// Success-rate estimate bounds. The estimate never reaches zero so a burst
// of failures cannot pin the pacer in a state it must crawl out of.
const (
	minSuccessRate = 0.1
	maxSuccessRate = 1.0
)

// maxJitter is the uniform jitter added to every returned delay.
const maxJitter = time.Second

// Pacer computes the delay to apply before each outbound operation based on
// the recent success/failure history. It is safe for concurrent use; state
// updates never fail.
type Pacer struct {
	mu sync.Mutex

	currentDelay time.Duration
	successRate  float64

	minDelay         time.Duration
	maxDelay         time.Duration
	successIncrement float64
	failureDecrement float64

	totalRequests      int64
	successfulRequests int64

	enabled bool
}

// Snapshot is a point-in-time view of the pacer state.
type Snapshot struct {
	CurrentDelay       time.Duration `json:"current_delay"`
	SuccessRate        float64       `json:"success_rate"`
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	Enabled            bool          `json:"enabled"`
}

// New creates a pacer from the adaptive-rate configuration options.
func New(cfg *config.Config) *Pacer {
	p := &Pacer{
		currentDelay:     cfg.AdaptiveRateBaseDelay,
		successRate:      maxSuccessRate,
		minDelay:         cfg.AdaptiveRateMinDelay,
		maxDelay:         cfg.AdaptiveRateMaxDelay,
		successIncrement: cfg.AdaptiveSuccessIncrement,
		failureDecrement: cfg.AdaptiveFailureDecrement,
		enabled:          cfg.EnableAdaptiveRateLimiting,
	}

	log.Info().
		Dur("base_delay", cfg.AdaptiveRateBaseDelay).
		Dur("min_delay", p.minDelay).
		Dur("max_delay", p.maxDelay).
		Bool("enabled", p.enabled).
		Msg("Adaptive pacer initialized")

	return p
}

// NextDelay records the outcome of the previous operation and returns the
// delay to apply before the next one, jitter included. A disabled pacer
// still tracks counters but always returns zero.
func (p *Pacer) NextDelay(success bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	if success {
		p.successfulRequests++
		p.successRate = min(maxSuccessRate, p.successRate+p.successIncrement)
		p.currentDelay = max(p.minDelay, p.currentDelay*9/10)
	} else {
		p.successRate = max(minSuccessRate, p.successRate-p.failureDecrement)
		p.currentDelay = min(p.maxDelay, p.currentDelay*2)
	}

	if !p.enabled {
		return 0
	}

	jitter := time.Duration(rand.Float64() * float64(maxJitter))
	return p.currentDelay + jitter
}

// Wait sleeps for NextDelay(success), honoring context cancellation.
func (p *Pacer) Wait(ctx context.Context, success bool) error {
	delay := p.NextDelay(success)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pacer state.
func (p *Pacer) Stats() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		CurrentDelay:       p.currentDelay,
		SuccessRate:        p.successRate,
		TotalRequests:      p.totalRequests,
		SuccessfulRequests: p.successfulRequests,
		Enabled:            p.enabled,
	}
}

// CurrentDelay returns the bounded delay without jitter, for reporting.
func (p *Pacer) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}
