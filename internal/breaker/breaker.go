// Package breaker implements the per-group Circuit Breaker (spec §4.5): a
// closed/open/half-open fast-fail gate around group dispatch.
//
// Grounded on the tagged-union state-machine shape used throughout the pack
// for similar gates — circuitState in
// other_examples/f569bff3_step-chen-agent-sets__internal-client-mcp_conn.go.go
// (failures/lastFailure/openUntil, isOpen()) — and on
// other_examples/a0bb3066_mcpany-core__server-tests-integration-resilience-http_resilience_test.go.go's
// three-state expectations ("First 2 requests should fail and open the
// circuit... Third request should be blocked", `"circuit breaker is open"`).
package breaker

import (
	"sync"
	"time"
)

// State is the tagged-union circuit state (spec §4.5 / §9 "state machines
// as tagged variants").
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is one per group; safe for concurrent use.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	halfOpenBusy bool
}

// New builds a Breaker starting closed.
func New(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{failureThreshold: failureThreshold, resetTimeout: resetTimeout, state: Closed}
}

// Allow reports whether a dispatch may proceed right now, and if so which
// state it is being admitted under (Closed for normal traffic, HalfOpen for
// the single probe call). Call RecordResult with the outcome afterward.
func (b *Breaker) Allow(now time.Time) (bool, State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, Closed
	case Open:
		if now.Sub(b.openedAt) >= b.resetTimeout {
			b.state = HalfOpen
			b.halfOpenBusy = true
			return true, HalfOpen
		}
		return false, Open
	case HalfOpen:
		if b.halfOpenBusy {
			return false, Open
		}
		b.halfOpenBusy = true
		return true, HalfOpen
	default:
		return false, Open
	}
}

// RecordResult reports the outcome of a call admitted by Allow.
func (b *Breaker) RecordResult(admittedAs State, success bool, now time.Time) (transitioned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch admittedAs {
	case HalfOpen:
		b.halfOpenBusy = false
		if success {
			b.state = Closed
			b.failures = 0
			return true
		}
		b.state = Open
		b.openedAt = now
		return true
	default: // Closed
		if success {
			if b.failures != 0 {
				b.failures = 0
			}
			return false
		}
		b.failures++
		if b.failures >= b.failureThreshold && b.state == Closed {
			b.state = Open
			b.openedAt = now
			return true
		}
		return false
	}
}

// State returns the current state without mutating it (open may still be
// logically eligible to transition to half-open on next Allow).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed, e.g. on manual operator action.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.halfOpenBusy = false
}
