package cognition

import (
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen serves the fallback without calling the endpoint.
	BreakerOpen
	// BreakerHalfOpen admits a bounded number of trial calls.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenTrials is the number of trial calls admitted while probing.
	HalfOpenTrials int
}

// DefaultBreakerConfig opens after five failures and probes with one trial after 30s.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
	HalfOpenTrials:   1,
}

// Permit is handed out by Acquire and must be settled with exactly one of
// Success, Failure or Release.
type Permit struct {
	trial bool
	epoch uint64
}

// Trial reports whether the permit is a half-open probe.
func (p Permit) Trial() bool { return p.trial }

// BreakerStats is a snapshot of a breaker.
type BreakerStats struct {
	State        BreakerState
	Failures     int
	OpenedAt     time.Time
	TrialsIssued int
}

// Breaker is a per-endpoint failure state machine:
//
//	Closed   --(failures >= threshold)--> Open
//	Open     --(elapsed >= reset)------> HalfOpen
//	HalfOpen --(trial succeeds)--------> Closed
//	HalfOpen --(trial fails)-----------> Open
//
// Every transition happens under one mutex, so concurrent callers observe a
// linearizable sequence of states.
type Breaker struct {
	cfg          BreakerConfig
	now          func() time.Time
	onTransition func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trials   int
	epoch    uint64
}

// NewBreaker creates a closed breaker. now and onTransition may be nil.
func NewBreaker(cfg BreakerConfig, now func() time.Time, onTransition func(from, to BreakerState)) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now, onTransition: onTransition}
}

// Acquire asks for permission to call the endpoint. It returns false while
// the circuit is open, or when the half-open trial budget is used up.
func (b *Breaker) Acquire() (Permit, bool) {
	b.mu.Lock()
	var fired []transition
	defer func() {
		b.mu.Unlock()
		b.fire(fired)
	}()

	switch b.state {
	case BreakerClosed:
		return Permit{epoch: b.epoch}, true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return Permit{}, false
		}
		fired = append(fired, b.transitionLocked(BreakerHalfOpen))
	}

	// half-open
	if b.trials >= b.cfg.HalfOpenTrials {
		return Permit{}, false
	}
	b.trials++
	return Permit{trial: true, epoch: b.epoch}, true
}

// Success settles a permit whose call succeeded.
func (b *Breaker) Success(p Permit) {
	b.mu.Lock()
	var fired []transition
	b.failures = 0
	if b.state == BreakerHalfOpen && p.trial && p.epoch == b.epoch {
		fired = append(fired, b.transitionLocked(BreakerClosed))
	}
	b.mu.Unlock()
	b.fire(fired)
}

// Failure settles a permit whose call failed or timed out.
func (b *Breaker) Failure(p Permit) {
	b.mu.Lock()
	var fired []transition
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			fired = append(fired, b.transitionLocked(BreakerOpen))
		}
	case BreakerHalfOpen:
		b.failures++
		// only the trial decides; a call admitted while closed just counts
		if p.trial && p.epoch == b.epoch {
			fired = append(fired, b.transitionLocked(BreakerOpen))
		}
	case BreakerOpen:
		// a call admitted before the circuit opened; already counted as open
		b.failures++
	}
	b.mu.Unlock()
	b.fire(fired)
}

// Release returns a trial permit whose call never reached the endpoint.
func (b *Breaker) Release(p Permit) {
	if !p.trial {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && p.epoch == b.epoch && b.trials > 0 {
		b.trials--
	}
}

// State returns the current state without applying the reset timeout.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state, Failures: b.failures, OpenedAt: b.openedAt, TrialsIssued: b.trials}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var fired []transition
	if b.state != BreakerClosed {
		fired = append(fired, b.transitionLocked(BreakerClosed))
	}
	b.failures = 0
	b.mu.Unlock()
	b.fire(fired)
}

type transition struct{ from, to BreakerState }

func (b *Breaker) transitionLocked(to BreakerState) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	b.epoch++
	b.trials = 0
	switch to {
	case BreakerOpen:
		b.openedAt = b.now()
	case BreakerClosed:
		b.failures = 0
	}
	return t
}

func (b *Breaker) fire(ts []transition) {
	if b.onTransition == nil {
		return
	}
	for _, t := range ts {
		b.onTransition(t.from, t.to)
	}
}
