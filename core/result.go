package core

import "time"

// Status is the terminal status reported to a submitter.
type Status int

const (
	// StatusPending means copies of the submission are still in flight.
	StatusPending Status = iota
	// StatusCompleted means at least one copy reached a terminal node.
	StatusCompleted
	// StatusAbsorbed means every copy was absorbed (e.g. merged by a batching node).
	StatusAbsorbed
	// StatusExpired means the hop budget or queue age ran out before any terminal node.
	StatusExpired
	// StatusDropped means copies were discarded by backpressure, shutdown,
	// missing routes or transform failures.
	StatusDropped
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusAbsorbed:
		return "absorbed"
	case StatusExpired:
		return "expired"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DropReason labels why a signal copy was discarded.
type DropReason string

// Drop reasons recorded in metrics and results.
const (
	DropQueueFull      DropReason = "queue_full"
	DropEvicted        DropReason = "evicted"
	DropShutdown       DropReason = "shutdown"
	DropNoRoute        DropReason = "no_route"
	DropDuplicate      DropReason = "duplicate"
	DropTransformError DropReason = "transform_error"
	DropNodeGone       DropReason = "node_gone"
)

// Output is a payload produced by a terminal node.
type Output struct {
	Node     NodeID
	SignalID SignalID
	Payload  []byte
	Hops     int
}

// Result summarizes everything that happened to one submission.
type Result struct {
	SubmissionID SignalID
	Entry        NodeID
	Status       Status
	Outputs      []Output
	Processed    int // transform invocations across all copies
	Expired      int
	Absorbed     int
	Dropped      int
	DropReasons  map[DropReason]int
	SubmittedAt  time.Time
	FinishedAt   time.Time
}

// Duration returns the wall time between submission and completion.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.SubmittedAt)
}
