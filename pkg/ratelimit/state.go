// Package ratelimit keeps the scraper polite towards the upstream API. It spaces
// out page requests and pauses all requests while the upstream keeps failing.
package ratelimit

import (
	"time"
)

// Thresholds for throttling decisions.
const (
	// FailureThresholdWarning starts throttling once this many requests in a
	// row have failed.
	FailureThresholdWarning = 3

	// FailureThresholdCritical marks the upstream as unhealthy. Requests are
	// still allowed, but with the longest pause.
	FailureThresholdCritical = 5
)

// State is a snapshot of upstream health as seen by the tracker.
type State struct {
	// ConsecutiveFailures counts failed requests since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastFailure is when the most recent failure was recorded.
	LastFailure time.Time `json:"last_failure"`

	// LastSuccess is when the most recent success was recorded.
	LastSuccess time.Time `json:"last_success"`

	// IsHealthy is false once ConsecutiveFailures reaches the warning threshold.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsThrottling returns true if requests should pause before going out.
func (s *State) NeedsThrottling() bool {
	return s.ConsecutiveFailures >= FailureThresholdWarning
}

// IsCritical returns true if the upstream looks down.
func (s *State) IsCritical() bool {
	return s.ConsecutiveFailures >= FailureThresholdCritical
}

// Pause returns how long a request should wait given the failure streak:
// step per consecutive failure, capped at max.
func (s *State) Pause(step, max time.Duration) time.Duration {
	if !s.NeedsThrottling() {
		return 0
	}
	pause := time.Duration(s.ConsecutiveFailures) * step
	if pause > max {
		return max
	}
	return pause
}

// UpdateHealth updates the IsHealthy field based on ConsecutiveFailures.
func (s *State) UpdateHealth() {
	s.IsHealthy = !s.NeedsThrottling()
}
