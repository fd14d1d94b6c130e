package connection

import (
	"sync"
	"time"
)

// Backoff constants.
const (
	// DefaultInitialDelay is the delay before the first reconnection
	// attempt.
	DefaultInitialDelay = 1 * time.Second

	// DefaultMaxDelay caps the reconnection delay.
	DefaultMaxDelay = 60 * time.Second

	// maxExponent bounds the doubling so the shift can never
	// overflow a time.Duration.
	maxExponent = 32
)

// Backoff computes deterministic exponential reconnection delays.
type Backoff struct {
	mu sync.Mutex

	initial  time.Duration
	max      time.Duration
	attempts int
}

// NewBackoff creates a backoff calculator with the default schedule.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultInitialDelay, DefaultMaxDelay)
}

// NewBackoffWithConfig creates a backoff calculator with a custom
// initial delay and cap. Non-positive values fall back to the
// defaults.
func NewBackoffWithConfig(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	return &Backoff{initial: initial, max: max}
}

// Delay returns the delay before the n-th attempt (1-based):
// min(initial * 2^(n-1), max). Attempts below 1 yield the initial
// delay.
func (b *Backoff) Delay(attempt int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delayLocked(attempt)
}

func (b *Backoff) delayLocked(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > maxExponent {
		return b.max
	}
	delay := b.initial << uint(exp)
	if delay <= 0 || delay > b.max {
		return b.max
	}
	return delay
}

// Next advances the attempt counter and returns the delay before the
// new attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	return b.delayLocked(b.attempts)
}

// Reset restarts the schedule. Call after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
