package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	binaRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	binaRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bina_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	binaRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bina_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy describes how a failing request is retried.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of the wait.
	MaxDelay time.Duration

	// Multiplier is the growth factor between consecutive waits.
	Multiplier float64

	// Jitter is the relative randomisation applied to each wait (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy: 3 attempts starting at
// 2s, doubling, capped at 30s, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// withDefaults fills zero fields so a partially specified policy is usable.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Backoff returns the un-jittered wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	backoff := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff > float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if backoff > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(backoff)
}

// jittered spreads d by ±Jitter so concurrent workers do not retry in lockstep.
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter == 0 || d == 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - p.Jitter + rand.Float64()*2*p.Jitter))
}

// Do runs fn until it succeeds, returns a non-retryable error, or MaxAttempts
// is reached. Only errors accepted by IsRetryable are retried. Waiting
// respects context cancellation.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	var errorClass ErrorClass

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("op", op).
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = Classify(err)

		if !IsRetryable(err) {
			return lastErr
		}

		if attempt >= p.MaxAttempts {
			break
		}

		binaRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		wait := p.jittered(p.Backoff(attempt))
		binaRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		log.Debug().
			Err(err).
			Str("op", op).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("op", op).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v (last error: %w)", ErrContextCancelled, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	binaRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Warn().
		Err(lastErr).
		Str("op", op).
		Str("error_class", string(errorClass)).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetryExhausted, p.MaxAttempts, lastErr)
}
