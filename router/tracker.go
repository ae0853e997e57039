package router

import (
	"sync"
	"time"

	"github.com/hupe1980/layermesh/core"
)

type claimKey struct {
	node   core.NodeID
	signal core.SignalID
}

// submission accumulates the fate of every copy descending from one
// submitted signal.
type submission struct {
	mu          sync.Mutex
	result      core.Result
	outstanding int
	seen        map[claimKey]struct{}
	finished    bool
	done        chan struct{}
}

// tracker owns all live and recently finished submissions.
type tracker struct {
	now      func() time.Time
	onResult func(core.Result)

	mu   sync.Mutex
	subs map[core.SignalID]*submission
}

func newTracker(now func() time.Time, onResult func(core.Result)) *tracker {
	return &tracker{now: now, onResult: onResult, subs: map[core.SignalID]*submission{}}
}

// open registers a submission with one outstanding copy.
func (t *tracker) open(id core.SignalID, entry core.NodeID) {
	s := &submission{
		result: core.Result{
			SubmissionID: id,
			Entry:        entry,
			Status:       core.StatusPending,
			DropReasons:  map[core.DropReason]int{},
			SubmittedAt:  t.now(),
		},
		outstanding: 1,
		seen:        map[claimKey]struct{}{},
		done:        make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[id] = s
	t.mu.Unlock()
}

// forget removes a submission that was never admitted.
func (t *tracker) forget(id core.SignalID) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

func (t *tracker) get(id core.SignalID) (*submission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subs[id]
	return s, ok
}

// claim records that node is about to process signal. It returns false when
// the pair was already claimed, which makes processing idempotent.
func (t *tracker) claim(root core.SignalID, node core.NodeID, signal core.SignalID) bool {
	s, ok := t.get(root)
	if !ok {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return true
	}
	key := claimKey{node: node, signal: signal}
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// spawn accounts for n new copies about to be enqueued.
func (t *tracker) spawn(root core.SignalID, n int) {
	if n <= 0 {
		return
	}
	if s, ok := t.get(root); ok {
		s.mu.Lock()
		if !s.finished {
			s.outstanding += n
		}
		s.mu.Unlock()
	}
}

// update applies fn to the running result without settling a copy.
func (t *tracker) update(root core.SignalID, fn func(*core.Result)) {
	if s, ok := t.get(root); ok {
		s.mu.Lock()
		if !s.finished {
			fn(&s.result)
		}
		s.mu.Unlock()
	}
}

// settle applies fn and retires one copy. The submission finishes when no
// copies remain.
func (t *tracker) settle(root core.SignalID, fn func(*core.Result)) {
	s, ok := t.get(root)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	if fn != nil {
		fn(&s.result)
	}
	s.outstanding--
	if s.outstanding > 0 {
		s.mu.Unlock()
		return
	}
	res := t.finishLocked(s)
	s.mu.Unlock()
	t.complete(s, res)
}

// abort finishes every live submission, counting its outstanding copies as
// dropped for reason.
func (t *tracker) abort(reason core.DropReason) {
	t.mu.Lock()
	subs := make([]*submission, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if s.finished {
			s.mu.Unlock()
			continue
		}
		if s.outstanding > 0 {
			s.result.Dropped += s.outstanding
			s.result.DropReasons[reason] += s.outstanding
			s.outstanding = 0
		}
		res := t.finishLocked(s)
		s.mu.Unlock()
		t.complete(s, res)
	}
}

func (t *tracker) finishLocked(s *submission) core.Result {
	s.finished = true
	s.seen = nil
	s.result.FinishedAt = t.now()
	s.result.Status = aggregateStatus(s.result)
	return snapshotResult(s.result)
}

// complete reports res and then releases awaiters, so OnResult has seen a
// result by the time Await returns it.
func (t *tracker) complete(s *submission, res core.Result) {
	if t.onResult != nil {
		t.onResult(res)
	}
	close(s.done)
}

// evict forgets finished submissions older than cutoff.
func (t *tracker) evict(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.subs {
		s.mu.Lock()
		old := s.finished && s.result.FinishedAt.Before(cutoff)
		s.mu.Unlock()
		if old {
			delete(t.subs, id)
			n++
		}
	}
	return n
}

// counts returns the number of tracked and still pending submissions.
func (t *tracker) counts() (tracked, pending int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.mu.Lock()
		if !s.finished {
			pending++
		}
		s.mu.Unlock()
	}
	return len(t.subs), pending
}

// snapshot returns a copy of the submission's current result.
func (s *submission) snapshot() core.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotResult(s.result)
}

func aggregateStatus(r core.Result) core.Status {
	switch {
	case len(r.Outputs) > 0:
		return core.StatusCompleted
	case r.Absorbed > 0:
		return core.StatusAbsorbed
	case r.Expired > 0:
		return core.StatusExpired
	default:
		return core.StatusDropped
	}
}

func snapshotResult(r core.Result) core.Result {
	out := r
	out.Outputs = append([]core.Output(nil), r.Outputs...)
	out.DropReasons = make(map[core.DropReason]int, len(r.DropReasons))
	for k, v := range r.DropReasons {
		out.DropReasons[k] = v
	}
	return out
}

func recordDrop(reason core.DropReason) func(*core.Result) {
	return func(r *core.Result) {
		r.Dropped++
		r.DropReasons[reason]++
	}
}

func recordExpired(r *core.Result) { r.Expired++ }

func recordAbsorbed(r *core.Result) { r.Absorbed++ }

func recordProcessed(r *core.Result) { r.Processed++ }

func recordOutput(o core.Output) func(*core.Result) {
	return func(r *core.Result) { r.Outputs = append(r.Outputs, o) }
}
