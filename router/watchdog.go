package router

import (
	"context"
	"time"
)

func (r *Router) watch(ctx context.Context) {
	t := time.NewTicker(r.cfg.WatchdogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-t.C:
			r.sweep()
		}
	}
}

// sweep expires envelopes that waited too long, evicts drained nodes that
// went idle and forgets old results.
func (r *Router) sweep() {
	now := r.now()
	if r.cfg.MaxQueueAge > 0 {
		cutoff := now.Add(-r.cfg.MaxQueueAge)
		for _, n := range r.topo.Nodes() {
			for _, env := range n.Inbox().ExpireOlderThan(cutoff) {
				r.expire(n.ID(), env.Signal, true)
			}
		}
	}
	if reaped := r.topo.Reap(nil); len(reaped) > 0 {
		r.logger.Info("Reaped drained nodes", "nodes", reaped, "generation", r.topo.Generation())
	}
	if r.cfg.ResultRetention > 0 {
		if n := r.tracker.evict(now.Add(-r.cfg.ResultRetention)); n > 0 {
			r.logger.Debug("Evicted finished results", "count", n)
		}
	}
}
