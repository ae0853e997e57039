package router

import (
	"sync"

	"github.com/hupe1980/layermesh/topology"
)

// readyRing is the FIFO of nodes with pending work. A node appears at most
// once because its inbox tracks whether it is scheduled.
type readyRing struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*topology.Node
	closed bool
}

func newReadyRing() *readyRing {
	r := &readyRing{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *readyRing) push(n *topology.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue = append(r.queue, n)
	r.cond.Signal()
}

// pop blocks until a node is ready or the ring is closed.
func (r *readyRing) pop() (*topology.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil, false
	}
	n := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return n, true
}

func (r *readyRing) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.queue = nil
	r.cond.Broadcast()
}

func (r *readyRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
