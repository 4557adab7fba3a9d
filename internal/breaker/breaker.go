// Package breaker implements a three-state circuit breaker.
//
// One Breaker instance protects one boundary: the sampling gate's overload
// shield, the dispatcher's delivery path, each sink in the failover router.
// Each instance owns its state behind its own mutex — there is no global
// breaker registry and no shared lock.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker transitions Closed → Open after FailureThreshold consecutive
// failures, stays Open for CoolDown, then admits exactly one trial call
// (HalfOpen). The trial's outcome decides the next state.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	openedAt         time.Time
	coolDown         time.Duration
	halfOpenInFlight bool

	now func() time.Time // overridable for tests
}

// New creates a closed breaker.
func New(failureThreshold int, coolDown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		coolDown:         coolDown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While Open it returns false
// until the cool-down elapses; the first Allow after that claims the single
// half-open trial slot and returns true, and further calls are rejected
// until the trial reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false
		}
		b.state = HalfOpen
		b.halfOpenInFlight = true
		return true
	default: // HalfOpen
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
}

// Success records a successful call. In HalfOpen it closes the breaker and
// clears the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.halfOpenInFlight = false
	b.state = Closed
}

// Failure records a failed call. In HalfOpen it re-opens immediately; in
// Closed it opens once the consecutive-failure threshold is crossed.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenInFlight = false
	b.failureCount++

	if b.state == HalfOpen || b.failureCount >= b.failureThreshold {
		b.state = Open
		b.openedAt = b.now()
	}
}

// ForceOpen opens the breaker regardless of the failure count. The sampling
// gate uses this when its sliding-window drop ratio crosses the storm
// threshold.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Open
	b.openedAt = b.now()
}

// State returns the current position without claiming a trial slot.
// An Open breaker past its cool-down still reports Open here; only Allow
// performs the Open → HalfOpen transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
