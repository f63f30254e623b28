package telegram

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// circuitBreaker trips after a run of consecutive failures and fails fast
// until the reset timeout elapses, then admits a single probe. A successful
// probe closes the circuit; a failed one re-opens it.
type circuitBreaker struct {
	threshold int
	resetTime time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newCircuitBreaker(threshold int, resetTime time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		resetTime: resetTime,
		state:     BreakerClosed,
	}
}

// allow reports whether a call may proceed. In half-open state only one
// probe is admitted at a time.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.resetTime {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// recordSuccess closes the circuit and clears the failure run.
func (b *circuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// recordFailure counts a failure, tripping the circuit at the threshold.
// A failed half-open probe re-opens immediately.
func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}

// snapshot returns the state and failure count.
func (b *circuitBreaker) snapshot() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// An expired open circuit reads as half-open.
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.resetTime {
		return BreakerHalfOpen, b.failures
	}
	return b.state, b.failures
}

// reset returns the breaker to closed with no recorded failures.
func (b *circuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
