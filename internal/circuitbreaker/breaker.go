// Package circuitbreaker provides a sliding-window failure-rate circuit
// breaker protecting the gateway's single upstream backend. The breaker
// is opt-in: when disabled the forwarder relays upstream failures
// transparently, which is the gateway's default contract.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; limited requests allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// outcome records a single request result in the sliding window.
type outcome struct {
	failed bool
}

// Breaker implements a sliding-window failure-rate circuit breaker.
// It opens when the failure ratio over the most recent windowSize
// outcomes exceeds failureThreshold.
type Breaker struct {
	mu sync.Mutex

	state  State
	logger *slog.Logger

	// Sliding window implemented as a ring buffer.
	window   []outcome
	head     int // next write position
	count    int // number of outcomes recorded (up to windowSize)
	failures int // number of failures in the current window

	windowSize       int
	failureThreshold float64
	resetTimeout     time.Duration
	halfOpenMax      int

	halfOpenSuccess int
	openedAt        time.Time
}

// New creates a failure-rate circuit breaker.
func New(windowSize int, failureThreshold float64, resetTimeout time.Duration, halfOpenMax int, logger *slog.Logger) *Breaker {
	return &Breaker{
		state:            StateClosed,
		logger:           logger,
		window:           make([]outcome, windowSize),
		windowSize:       windowSize,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Allow reports whether a request may proceed. Returns false when the
// circuit is open and the request should be rejected with 503.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful upstream response.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(false)
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenMax {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed upstream response or transport error.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.recordOutcome(true)
		if b.count >= b.windowSize && b.failureRate() >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current circuit breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// recordOutcome writes a result into the ring buffer and maintains the
// running failure count. Must be called with b.mu held.
func (b *Breaker) recordOutcome(failed bool) {
	// If the window is full, evict the oldest entry.
	if b.count == b.windowSize {
		if b.window[b.head].failed {
			b.failures--
		}
	} else {
		b.count++
	}

	b.window[b.head] = outcome{failed: failed}
	if failed {
		b.failures++
	}
	b.head = (b.head + 1) % b.windowSize
}

// failureRate returns the current failure ratio. Must be called with b.mu held.
func (b *Breaker) failureRate() float64 {
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

// transitionTo changes the breaker state. Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	b.logger.Info("circuit breaker state change",
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.head = 0
		b.count = 0
		b.failures = 0
		b.halfOpenSuccess = 0
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenSuccess = 0
	case StateHalfOpen:
		b.halfOpenSuccess = 0
	}
}
