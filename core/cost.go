package core

import (
	"fmt"
	"time"
)

// CostEventKind classifies ledger notifications.
type CostEventKind int

const (
	// CostSoftLimit is emitted once per window when spend reaches the soft limit.
	CostSoftLimit CostEventKind = iota
	// CostHardLimit is emitted once per window when spend reaches (or an
	// admission would exceed) the hard limit; real calls stop until rollover.
	CostHardLimit
	// CostWindowReset is emitted when a window rolls over with non-zero spend.
	CostWindowReset
)

// String returns the event kind name.
func (k CostEventKind) String() string {
	switch k {
	case CostSoftLimit:
		return "soft_limit"
	case CostHardLimit:
		return "hard_limit"
	case CostWindowReset:
		return "window_reset"
	default:
		return "unknown"
	}
}

// CostEvent is published to alerting collaborators whenever a ledger crosses
// one of its limits.
type CostEvent struct {
	Endpoint    string
	Kind        CostEventKind
	Spent       float64
	Limit       float64
	WindowStart time.Time
	At          time.Time
}

// Message renders a human readable alert line.
func (e CostEvent) Message() string {
	switch e.Kind {
	case CostWindowReset:
		return fmt.Sprintf("cost window for %s reset (was %.4f)", e.Endpoint, e.Spent)
	default:
		ratio := 0.0
		if e.Limit > 0 {
			ratio = e.Spent / e.Limit * 100
		}
		return fmt.Sprintf("%s cost alert for %s: %.4f (%.0f%% of %.4f)", e.Kind, e.Endpoint, e.Spent, ratio, e.Limit)
	}
}

// CostEventHandler receives cost events. Handlers run synchronously on the
// calling worker and must not block.
type CostEventHandler func(CostEvent)
