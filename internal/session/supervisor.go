package session

import (
	"sync"
	"time"
)

// Default reconnect policy values.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// BackoffPolicy describes the reconnect schedule: exponential delay
// starting at Base, doubling up to Cap, for at most MaxAttempts tries
// (zero means unlimited).
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// normalized fills zero fields with defaults.
func (p BackoffPolicy) normalized() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = DefaultBackoffBase
	}
	if p.Cap <= 0 {
		p.Cap = DefaultBackoffCap
	}
	return p
}

// Delay returns the backoff delay before the given 1-based attempt:
// base, base*2, base*4, ... capped at Cap.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Supervisor tracks reconnect attempts for one session. The session's
// writer goroutine asks it for the next delay and sleeps on a timer, so
// at most one attempt can ever be in flight.
type Supervisor struct {
	mu      sync.Mutex
	policy  BackoffPolicy
	attempt int
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(policy BackoffPolicy) *Supervisor {
	return &Supervisor{policy: policy.normalized()}
}

// Next registers a new attempt and returns the delay to wait before it.
// ok is false when the attempt budget is exhausted.
func (s *Supervisor) Next() (delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy.MaxAttempts > 0 && s.attempt >= s.policy.MaxAttempts {
		return 0, false
	}
	s.attempt++
	return s.policy.Delay(s.attempt), true
}

// Attempt returns the current attempt number (zero when not retrying).
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Reset clears the attempt counter after a successful connect.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
}
