package cognition

import (
	"sync"
	"time"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/metrics"
)

// LedgerConfig sets the budget of one endpoint. Zero limits disable the
// corresponding check; a zero window never rolls over.
type LedgerConfig struct {
	Window    time.Duration
	SoftLimit float64
	HardLimit float64
}

// DefaultLedgerConfig is an hourly window without limits.
var DefaultLedgerConfig = LedgerConfig{Window: time.Hour}

// LedgerStats is a point-in-time view of a ledger.
type LedgerStats struct {
	WindowStart time.Time
	Spent       float64
	Reserved    float64
	Total       float64
	Exhausted   bool
}

// Ledger tracks spend against a rolling window. Admitted calls reserve their
// estimated cost until they are settled or cancelled, so concurrent callers
// cannot overshoot the hard limit together. Once spend reaches the hard limit
// the ledger stays exhausted until the window rolls over. All methods are
// safe for concurrent use.
type Ledger struct {
	endpoint string
	cfg      LedgerConfig
	now      func() time.Time
	onEvent  core.CostEventHandler
	metrics  metrics.Collector

	mu          sync.Mutex
	windowStart time.Time
	spent       float64
	reserved    float64
	total       float64
	softFired   bool
	hardFired   bool
	exhausted   bool
}

// NewLedger creates a ledger for endpoint. now and onEvent may be nil.
func NewLedger(endpoint string, cfg LedgerConfig, now func() time.Time, onEvent core.CostEventHandler, mc metrics.Collector) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		endpoint:    endpoint,
		cfg:         cfg,
		now:         now,
		onEvent:     onEvent,
		metrics:     metrics.OrNoOp(mc),
		windowStart: now(),
	}
}

// Admit reports whether a call with the given estimated cost may reach the
// endpoint. An admitted estimate stays reserved until Settle or Cancel.
// A refused projection does not exhaust the window; only actual spend does.
func (l *Ledger) Admit(estimate float64) bool {
	if estimate < 0 {
		estimate = 0
	}
	l.mu.Lock()
	events := l.rollLocked()
	ok := true
	if l.cfg.HardLimit > 0 {
		switch {
		case l.exhausted:
			ok = false
		case l.spent >= l.cfg.HardLimit:
			l.exhausted = true
			events = append(events, l.hardLimitLocked()...)
			ok = false
		case l.spent+l.reserved+estimate > l.cfg.HardLimit:
			events = append(events, l.hardLimitLocked()...)
			ok = false
		}
	}
	if ok {
		l.reserved += estimate
	}
	l.mu.Unlock()

	l.emit(events)
	return ok
}

// Settle releases the reservation of an admitted call and books its actual
// cost.
func (l *Ledger) Settle(estimate, cost float64) {
	l.mu.Lock()
	l.releaseLocked(estimate)
	events, spent := l.bookLocked(cost)
	l.mu.Unlock()

	l.metrics.Set(metrics.CostLedgerSpent, spent, l.endpoint)
	l.emit(events)
}

// Cancel releases the reservation of an admitted call that incurred no cost.
func (l *Ledger) Cancel(estimate float64) {
	l.mu.Lock()
	l.releaseLocked(estimate)
	l.mu.Unlock()
}

// Record books cost that was never reserved.
func (l *Ledger) Record(cost float64) {
	l.mu.Lock()
	events, spent := l.bookLocked(cost)
	l.mu.Unlock()

	l.metrics.Set(metrics.CostLedgerSpent, spent, l.endpoint)
	l.emit(events)
}

func (l *Ledger) releaseLocked(estimate float64) {
	if estimate <= 0 {
		return
	}
	l.reserved -= estimate
	if l.reserved < 1e-9 {
		l.reserved = 0
	}
}

func (l *Ledger) bookLocked(cost float64) ([]core.CostEvent, float64) {
	events := l.rollLocked()
	l.spent += cost
	l.total += cost
	if l.cfg.SoftLimit > 0 && !l.softFired && l.spent >= l.cfg.SoftLimit {
		l.softFired = true
		events = append(events, l.eventLocked(core.CostSoftLimit, l.cfg.SoftLimit))
	}
	if l.cfg.HardLimit > 0 && !l.exhausted && l.spent >= l.cfg.HardLimit {
		l.exhausted = true
		events = append(events, l.hardLimitLocked()...)
	}
	return events, l.spent
}

// Spent returns the spend of the current window.
func (l *Ledger) Spent() float64 { return l.Stats().Spent }

// Exhausted reports whether real calls are blocked for the rest of the window.
func (l *Ledger) Exhausted() bool { return l.Stats().Exhausted }

// Stats returns a snapshot after applying any pending rollover.
func (l *Ledger) Stats() LedgerStats {
	l.mu.Lock()
	events := l.rollLocked()
	s := LedgerStats{
		WindowStart: l.windowStart,
		Spent:       l.spent,
		Reserved:    l.reserved,
		Total:       l.total,
		Exhausted:   l.exhausted,
	}
	l.mu.Unlock()

	l.emit(events)
	return s
}

// rollLocked starts a new window when the current one elapsed. Window starts
// stay aligned to the configured duration. Reservations belong to calls in
// flight and carry over.
func (l *Ledger) rollLocked() []core.CostEvent {
	if l.cfg.Window <= 0 {
		return nil
	}
	now := l.now()
	elapsed := now.Sub(l.windowStart)
	if elapsed < l.cfg.Window {
		return nil
	}

	var events []core.CostEvent
	if l.spent > 0 {
		events = append(events, l.eventLocked(core.CostWindowReset, l.cfg.HardLimit))
	}
	l.windowStart = l.windowStart.Add(elapsed / l.cfg.Window * l.cfg.Window)
	l.spent = 0
	l.softFired = false
	l.hardFired = false
	l.exhausted = false
	l.metrics.Set(metrics.CostLedgerSpent, 0, l.endpoint)
	return events
}

// hardLimitLocked returns the hard limit event the first time the limit
// blocks a call in the current window.
func (l *Ledger) hardLimitLocked() []core.CostEvent {
	if l.hardFired {
		return nil
	}
	l.hardFired = true
	return []core.CostEvent{l.eventLocked(core.CostHardLimit, l.cfg.HardLimit)}
}

func (l *Ledger) eventLocked(kind core.CostEventKind, limit float64) core.CostEvent {
	return core.CostEvent{
		Endpoint:    l.endpoint,
		Kind:        kind,
		Spent:       l.spent,
		Limit:       limit,
		WindowStart: l.windowStart,
		At:          l.now(),
	}
}

func (l *Ledger) emit(events []core.CostEvent) {
	for _, ev := range events {
		l.metrics.Inc(metrics.CostEvents, l.endpoint, ev.Kind.String())
		if l.onEvent != nil {
			l.onEvent(ev)
		}
	}
}
