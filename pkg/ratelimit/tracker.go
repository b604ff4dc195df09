package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream health tracking.
var (
	binaConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bina_upstream_consecutive_failures",
		Help: "Number of upstream requests that failed in a row",
	})

	binaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bina_throttles_total",
		Help: "Total number of requests delayed because the upstream kept failing",
	})
)

// Config controls pacing and throttling.
type Config struct {
	// MinInterval is the minimum spacing between paced requests.
	MinInterval time.Duration

	// PauseStep is multiplied by the failure streak to get the throttle pause.
	PauseStep time.Duration

	// MaxPause caps the throttle pause.
	MaxPause time.Duration
}

// DefaultConfig mirrors the pacing of the original scraper: 500ms between
// pages and 5s per consecutive failure.
func DefaultConfig() Config {
	return Config{
		MinInterval: 500 * time.Millisecond,
		PauseStep:   5 * time.Second,
		MaxPause:    30 * time.Second,
	}
}

// Tracker monitors upstream failures and gates requests. It is safe for
// concurrent use by all workers of a run.
type Tracker struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	nextPaced time.Time
}

// NewTracker creates a new tracker.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	t := &Tracker{cfg: cfg, logger: logger}
	t.state.UpdateHealth()
	return t
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RecordSuccess resets the failure streak.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.ConsecutiveFailures > 0 {
		t.logger.Info().
			Int("consecutive_failures", t.state.ConsecutiveFailures).
			Msg("Upstream recovered")
	}
	t.state.ConsecutiveFailures = 0
	t.state.LastSuccess = time.Now()
	t.state.UpdateHealth()
	binaConsecutiveFailures.Set(0)
}

// RecordFailure extends the failure streak.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.ConsecutiveFailures++
	t.state.LastFailure = time.Now()
	t.state.UpdateHealth()
	binaConsecutiveFailures.Set(float64(t.state.ConsecutiveFailures))

	switch {
	case t.state.IsCritical():
		t.logger.Error().
			Int("consecutive_failures", t.state.ConsecutiveFailures).
			Msg("Upstream failing repeatedly - requests will be paused")
	case t.state.NeedsThrottling():
		t.logger.Warn().
			Int("consecutive_failures", t.state.ConsecutiveFailures).
			Msg("Upstream failing - requests will be throttled")
	}
}

// ShouldAllowRequest blocks while the upstream is throttled. It returns the
// context error if ctx ends first.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	pause := state.Pause(t.cfg.PauseStep, t.cfg.MaxPause)
	if pause <= 0 {
		return nil
	}

	t.logger.Warn().
		Int("consecutive_failures", state.ConsecutiveFailures).
		Dur("pause", pause).
		Msg("Throttling request")
	binaThrottlesTotal.Inc()

	return sleep(ctx, pause)
}

// Pace reserves the next slot for a paced request and waits for it. Slots are
// MinInterval apart regardless of how many goroutines ask.
func (t *Tracker) Pace(ctx context.Context) error {
	if t.cfg.MinInterval <= 0 {
		return nil
	}

	t.mu.Lock()
	now := time.Now()
	if t.nextPaced.Before(now) {
		t.nextPaced = now
	}
	wait := t.nextPaced.Sub(now)
	t.nextPaced = t.nextPaced.Add(t.cfg.MinInterval)
	t.mu.Unlock()

	return sleep(ctx, wait)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
