package reconnect

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the exponential growth
	DefaultMaxDelay = 8 * time.Second

	// maxShift keeps Base<<attempt from overflowing
	maxShift = 30
)

// Policy computes reconnect delays: min(MaxDelay, BaseDelay * 2^attempt).
// The zero value uses the defaults.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the 1s/8s policy used by stream transports
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// Delay returns the delay for a zero-based retry attempt.
// Negative attempts are treated as attempt 0.
func (p Policy) Delay(attempt int) time.Duration {
	base, max := p.bounds()
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

func (p Policy) bounds() (time.Duration, time.Duration) {
	base, max := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if max < base {
		max = base
	}
	return base, max
}

// NewBackOff returns a stateful backoff.BackOff walking the policy from attempt 0.
func (p Policy) NewBackOff() *Sequence {
	return &Sequence{policy: p}
}

// Sequence adapts Policy to backoff.BackOff so it can drive a Scheduler or
// backoff.Retry. Not safe for concurrent use.
type Sequence struct {
	policy  Policy
	attempt int
}

var _ backoff.BackOff = (*Sequence)(nil)

// NextBackOff returns the delay for the current attempt and advances it
func (s *Sequence) NextBackOff() time.Duration {
	d := s.policy.Delay(s.attempt)
	s.attempt++
	return d
}

// Reset restarts the sequence at attempt 0
func (s *Sequence) Reset() {
	s.attempt = 0
}

// Attempt returns how many delays have been handed out since the last reset
func (s *Sequence) Attempt() int {
	return s.attempt
}
