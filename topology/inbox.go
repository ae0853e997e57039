package topology

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/layermesh/core"
)

// Policy decides what happens when a signal arrives at a full inbox.
type Policy int

const (
	// RejectNew refuses the incoming signal with core.ErrQueueFull.
	RejectNew Policy = iota
	// EvictOldest drops the oldest queued signal to make room.
	EvictOldest
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case RejectNew:
		return "reject_new"
	case EvictOldest:
		return "evict_oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string into a Policy. The empty
// string means reject_new.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject_new":
		return RejectNew, nil
	case "evict_oldest":
		return EvictOldest, nil
	default:
		return RejectNew, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

// DefaultInboxCapacity is used when a node declares no capacity.
const DefaultInboxCapacity = 256

// Envelope is a queued signal.
type Envelope struct {
	Signal     core.Signal
	EnqueuedAt time.Time
}

// PushResult reports the side effects of Inbox.Push.
type PushResult struct {
	// Evicted holds the envelope displaced under EvictOldest.
	Evicted *Envelope
	// Schedule is true when the inbox went from unscheduled to scheduled
	// and the caller must put its node on the ready ring.
	Schedule bool
	// Len is the queue length after the push.
	Len int
}

// Inbox is a bounded FIFO ring buffer. It also carries the scheduling flag
// of its node so that enqueue and ready-ring bookkeeping happen under one
// lock: a node is on the ready ring, or being processed, at most once.
type Inbox struct {
	mu        sync.Mutex
	buf       []Envelope
	head      int
	size      int
	policy    Policy
	scheduled bool
}

// NewInbox creates an inbox. A non-positive capacity uses DefaultInboxCapacity.
func NewInbox(capacity int, policy Policy) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{buf: make([]Envelope, capacity), policy: policy}
}

// Push appends env, applying the backpressure policy when full.
func (q *Inbox) Push(env Envelope) (PushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res PushResult
	if q.size == len(q.buf) {
		if q.policy == RejectNew {
			return PushResult{Len: q.size}, core.ErrQueueFull
		}
		old := q.popLocked()
		res.Evicted = &old
	}
	q.buf[(q.head+q.size)%len(q.buf)] = env
	q.size++
	if !q.scheduled {
		q.scheduled = true
		res.Schedule = true
	}
	res.Len = q.size
	return res, nil
}

// Pop removes the oldest envelope. The inbox stays scheduled until Release,
// so a node is processed by one worker at a time.
func (q *Inbox) Pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Envelope{}, false
	}
	return q.popLocked(), true
}

// Release ends a processing turn. It reports whether envelopes remain, in
// which case the caller must put the node back on the ready ring; otherwise
// the inbox is unscheduled and the next Push reschedules it.
func (q *Inbox) Release() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		q.scheduled = false
		return false
	}
	return true
}

// ExpireOlderThan removes envelopes enqueued before cutoff. FIFO order means
// they are all at the front.
func (q *Inbox) ExpireOlderThan(cutoff time.Time) []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []Envelope
	for q.size > 0 && q.buf[q.head].EnqueuedAt.Before(cutoff) {
		expired = append(expired, q.popLocked())
	}
	return expired
}

// Drain removes and returns every queued envelope in FIFO order.
func (q *Inbox) Drain() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Envelope, 0, q.size)
	for q.size > 0 {
		out = append(out, q.popLocked())
	}
	return out
}

// Len returns the number of queued envelopes.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the capacity.
func (q *Inbox) Cap() int { return len(q.buf) }

// Policy returns the backpressure policy.
func (q *Inbox) Policy() Policy { return q.policy }

func (q *Inbox) popLocked() Envelope {
	env := q.buf[q.head]
	q.buf[q.head] = Envelope{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return env
}
