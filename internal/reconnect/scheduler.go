package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Scheduler owns at most one pending retry timer.
//
// Delays come from a backoff.BackOff (normally a Policy sequence). A successful
// connect calls Reset, which restarts the sequence; Cancel drops the pending
// timer without touching the attempt count.
type Scheduler struct {
	mu      sync.Mutex
	backoff backoff.BackOff
	timer   *time.Timer
	token   uint64 // identifies the pending timer; bumped on cancel
	attempt int
}

// NewScheduler creates a scheduler driven by the given policy
func NewScheduler(p Policy) *Scheduler {
	return NewSchedulerWithBackOff(p.NewBackOff())
}

// NewSchedulerWithBackOff creates a scheduler driven by any backoff.BackOff
func NewSchedulerWithBackOff(b backoff.BackOff) *Scheduler {
	return &Scheduler{backoff: b}
}

// Schedule arranges for fn to run after the next backoff delay.
// Returns false if a retry is already pending or the backoff gave up
// (backoff.Stop); in both cases fn will not be called by this invocation.
func (s *Scheduler) Schedule(fn func()) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		return 0, false
	}

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	s.attempt++

	s.token++
	token := s.token
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.token != token {
			// cancelled after the timer fired but before we got the lock
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
	return delay, true
}

// Cancel stops the pending timer, if any
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Reset cancels the pending timer and restarts the attempt counter at zero
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.backoff.Reset()
	s.attempt = 0
}

// Succeeded restarts the attempt counter after a successful connect.
// A pending timer (there should be none) is left alone.
func (s *Scheduler) Succeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff.Reset()
	s.attempt = 0
}

// Pending reports whether a retry timer is armed
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Attempt returns the number of retries scheduled since the last reset
func (s *Scheduler) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.token++
}
