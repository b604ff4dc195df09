package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTracker_RecordFailureAndSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), zerolog.Nop())

	for i := 0; i < FailureThresholdWarning; i++ {
		tracker.RecordFailure()
	}
	state := tracker.GetState()
	if state.ConsecutiveFailures != FailureThresholdWarning {
		t.Errorf("ConsecutiveFailures = %d, want %d", state.ConsecutiveFailures, FailureThresholdWarning)
	}
	if state.IsHealthy {
		t.Error("tracker should be unhealthy after reaching warning threshold")
	}

	tracker.RecordSuccess()
	state = tracker.GetState()
	if state.ConsecutiveFailures != 0 || !state.IsHealthy {
		t.Errorf("state after success = %+v, want healthy with no failures", state)
	}
}

func TestTracker_ShouldAllowRequest_Healthy(t *testing.T) {
	tracker := NewTracker(DefaultConfig(), zerolog.Nop())

	start := time.Now()
	if err := tracker.ShouldAllowRequest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("healthy tracker should not delay requests")
	}
}

func TestTracker_ShouldAllowRequest_Throttled(t *testing.T) {
	tracker := NewTracker(Config{PauseStep: 10 * time.Millisecond, MaxPause: time.Second}, zerolog.Nop())
	for i := 0; i < FailureThresholdWarning; i++ {
		tracker.RecordFailure()
	}

	start := time.Now()
	if err := tracker.ShouldAllowRequest(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("throttled request returned after %v, want >= 30ms pause", elapsed)
	}
}

func TestTracker_ShouldAllowRequest_ContextCancelled(t *testing.T) {
	tracker := NewTracker(Config{PauseStep: time.Hour, MaxPause: time.Hour}, zerolog.Nop())
	for i := 0; i < FailureThresholdCritical; i++ {
		tracker.RecordFailure()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.ShouldAllowRequest(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTracker_PaceSpacesRequests(t *testing.T) {
	tracker := NewTracker(Config{MinInterval: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := tracker.Pace(context.Background()); err != nil {
			t.Fatalf("Pace() error: %v", err)
		}
	}
	// First slot is immediate, the next three are 20ms apart.
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("4 paced requests took %v, want >= 60ms", elapsed)
	}
}

func TestTracker_PaceDisabled(t *testing.T) {
	tracker := NewTracker(Config{}, zerolog.Nop())
	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = tracker.Pace(context.Background())
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("pacing with zero interval should not wait")
	}
}
