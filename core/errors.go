package core

import (
	"errors"
	"fmt"
)

// Topology errors. Always returned synchronously by the mutating call.
var (
	ErrInvalidLayer      = errors.New("invalid layer")
	ErrNonAdjacentLayer  = errors.New("non-adjacent layer")
	ErrUnknownNode       = errors.New("unknown node")
	ErrSelfLink          = errors.New("node cannot link to itself")
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrNodeNotActive     = errors.New("node is not active")
	ErrLayerReassignment = errors.New("layer reassignment requires remove and add")
	ErrUnknownTransform  = errors.New("unknown transform")
)

// Routing errors.
var (
	ErrQueueFull         = errors.New("queue full")
	ErrSignalExpired     = errors.New("signal expired")
	ErrDropped           = errors.New("signal dropped")
	ErrShuttingDown      = errors.New("router shutting down")
	ErrNotStarted        = errors.New("router not started")
	ErrUnknownSubmission = errors.New("unknown submission")
)

// Cognition errors. These never escape the cognition client raw; they appear
// as the reason of a Rejected outcome.
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrFallbackFailed = errors.New("fallback failed")
)

// LinkError describes a rejected link mutation.
type LinkError struct {
	Op        string
	From      NodeID
	To        NodeID
	FromLayer Layer
	ToLayer   Layer
	Err       error
}

// Error implements error.
func (e *LinkError) Error() string {
	if errors.Is(e.Err, ErrNonAdjacentLayer) {
		return fmt.Sprintf("%s %s(L%d) -> %s(L%d): %v", e.Op, e.From, e.FromLayer, e.To, e.ToLayer, e.Err)
	}
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.From, e.To, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *LinkError) Unwrap() error { return e.Err }

// TransformError wraps a failure (returned error or recovered panic) raised
// by a node transform.
type TransformError struct {
	Node     NodeID
	SignalID SignalID
	Panic    any
	// Stack is the goroutine stack at the point of a recovered panic.
	Stack []byte
	Err   error
}

// Error implements error.
func (e *TransformError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("transform %s panicked on signal %d: %v", e.Node, e.SignalID, e.Panic)
	}
	return fmt.Sprintf("transform %s failed on signal %d: %v", e.Node, e.SignalID, e.Err)
}

// Unwrap returns the underlying error, if any.
func (e *TransformError) Unwrap() error { return e.Err }

// StackTrace returns the stack captured with a recovered panic, or nil.
func (e *TransformError) StackTrace() []byte { return e.Stack }
