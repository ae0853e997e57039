package router

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
	"github.com/hupe1980/layermesh/topology"
)

func (r *Router) work(ctx context.Context) {
	for {
		n, ok := r.ready.pop()
		if !ok {
			return
		}
		r.turn(ctx, n)
	}
}

// turn processes one envelope of n. The node counts as busy from before the
// pop until routing is done so Reap never sees it idle in between.
func (r *Router) turn(ctx context.Context, n *topology.Node) {
	n.Begin()
	if env, ok := n.Inbox().Pop(); ok {
		r.metrics.Set(metrics.QueueDepth, float64(n.Inbox().Len()), string(n.ID()))
		r.process(ctx, n, env.Signal)
	}
	n.Done()
	if n.Inbox().Release() {
		r.ready.push(n)
	}
}

func (r *Router) process(ctx context.Context, n *topology.Node, sig core.Signal) {
	id := n.ID()
	if sig.HasVisited(id) || !r.tracker.claim(sig.Root, id, sig.ID) {
		r.drop(id, sig, core.DropDuplicate, true)
		return
	}

	info := n.Info()
	ctx, span := r.tracer.Start(ctx, "router.transform", trace.WithAttributes(
		attribute.String("layermesh.node", string(id)),
		attribute.Int("layermesh.layer", int(info.Layer)),
		attribute.Int64("layermesh.signal_id", int64(sig.ID)),
		attribute.Int("layermesh.hops", sig.Hops),
	))
	start := time.Now()
	emissions, err := invoke(ctx, n.Transform(), info, sig)
	r.metrics.Observe(metrics.TransformDuration, time.Since(start).Seconds(), string(id))
	r.metrics.Inc(metrics.SignalsProcessed, string(id))
	r.tracker.update(sig.Root, recordProcessed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		r.metrics.Inc(metrics.NodeTransformErrors, string(id))
		r.logTransformError(id, sig, err)
		r.drop(id, sig, core.DropTransformError, true)
		return
	}
	span.SetAttributes(attribute.Int("layermesh.emissions", len(emissions)))
	span.End()

	r.route(n, info, sig, emissions)
}

// invoke runs the transform, converting a returned error or a panic into a
// *core.TransformError.
func invoke(ctx context.Context, t core.Transform, info core.NodeInfo, sig core.Signal) (out []core.Emission, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &core.TransformError{Node: info.ID, SignalID: sig.ID, Panic: p, Stack: debug.Stack()}
		}
	}()
	if t == nil {
		return nil, &core.TransformError{Node: info.ID, SignalID: sig.ID, Err: core.ErrUnknownTransform}
	}
	out, err = t.Transform(ctx, info, sig)
	if err != nil {
		return nil, &core.TransformError{Node: info.ID, SignalID: sig.ID, Err: err}
	}
	return out, nil
}

// route applies the emissions of one processed signal and then settles it.
// No emissions means the node is terminal for this signal.
func (r *Router) route(n *topology.Node, info core.NodeInfo, sig core.Signal, emissions []core.Emission) {
	if len(emissions) == 0 {
		emissions = []core.Emission{core.Terminate(sig.Payload)}
	}

	var snap *topology.Snapshot
	for _, e := range emissions {
		switch e.Direction {
		case core.Terminal:
			r.tracker.update(sig.Root, recordOutput(core.Output{
				Node:     info.ID,
				SignalID: sig.ID,
				Payload:  e.Payload,
				Hops:     sig.Hops,
			}))
			r.logSignal(info.ID, sig, "terminal")
		case core.Absorb:
			r.tracker.update(sig.Root, recordAbsorbed)
			r.logSignal(info.ID, sig, "absorbed")
		case core.Forward, core.Backward:
			if snap == nil {
				snap = r.topo.Snapshot()
			}
			r.forward(snap, n, info, sig, e)
		default:
			r.drop(info.ID, sig, core.DropNoRoute, false)
		}
	}
	r.tracker.settle(sig.Root, nil)
}

// forward derives the child signal for e and enqueues one copy per selected
// neighbor. Neighbors already on the lineage are never candidates.
func (r *Router) forward(snap *topology.Snapshot, n *topology.Node, info core.NodeInfo, sig core.Signal, e core.Emission) {
	child := sig.Derive(r.ids.Next(), info, e)
	if child.Expired() {
		r.expire(info.ID, child, false)
		return
	}

	candidates := r.routes.lookup(snap, info.ID, e.Direction)
	dests := make([]*topology.Node, 0, len(candidates))
	for _, c := range candidates {
		if child.HasVisited(c.ID()) {
			continue
		}
		if e.Target != "" && c.ID() != e.Target {
			continue
		}
		dests = append(dests, c)
	}
	dests = n.Select(dests)
	if len(dests) == 0 {
		r.drop(info.ID, child, core.DropNoRoute, false)
		return
	}

	r.tracker.spawn(sig.Root, len(dests))
	for i, d := range dests {
		cp := child
		if i < len(dests)-1 {
			cp = child.Clone()
		}
		r.enqueue(d, cp)
	}
}

// enqueue delivers one accounted copy to dest.
func (r *Router) enqueue(dest *topology.Node, sig core.Signal) {
	id := dest.ID()
	if r.stopped() {
		r.drop(id, sig, core.DropShutdown, true)
		return
	}
	if dest.State() == core.NodeRemoved {
		r.drop(id, sig, core.DropNodeGone, true)
		return
	}
	res, err := dest.Inbox().Push(topology.Envelope{Signal: sig, EnqueuedAt: r.now()})
	if err != nil {
		r.drop(id, sig, core.DropQueueFull, true)
		return
	}
	r.logSignal(id, sig, "enqueued")
	r.pushed(dest, res)
}

// pushed finishes the bookkeeping of a successful Push.
func (r *Router) pushed(n *topology.Node, res topology.PushResult) {
	r.metrics.Set(metrics.QueueDepth, float64(res.Len), string(n.ID()))
	if res.Evicted != nil {
		r.drop(n.ID(), res.Evicted.Signal, core.DropEvicted, true)
	}
	if res.Schedule {
		r.ready.push(n)
	}
}

// drop records a discarded copy. settle is false when the copy is a child
// that was never accounted as outstanding.
func (r *Router) drop(node core.NodeID, sig core.Signal, reason core.DropReason, settle bool) {
	r.metrics.Inc(metrics.SignalsDropped, string(node), string(reason))
	r.logSignal(node, sig, "dropped:"+string(reason))
	if settle {
		r.tracker.settle(sig.Root, recordDrop(reason))
		return
	}
	r.tracker.update(sig.Root, recordDrop(reason))
}

func (r *Router) expire(node core.NodeID, sig core.Signal, settle bool) {
	r.metrics.Inc(metrics.SignalsExpired, string(node))
	r.logSignal(node, sig, "expired")
	if settle {
		r.tracker.settle(sig.Root, recordExpired)
		return
	}
	r.tracker.update(sig.Root, recordExpired)
}

func (r *Router) logSignal(node core.NodeID, sig core.Signal, status string) {
	if ml, ok := r.logger.(*logging.MeshLogger); ok {
		ml.LogSignal(string(node), uint64(sig.ID), sig.Hops, status)
	}
}

// logTransformError reports panics with the stack of the panicking transform.
func (r *Router) logTransformError(node core.NodeID, sig core.Signal, err error) {
	var te *core.TransformError
	if ml, ok := r.logger.(*logging.MeshLogger); ok && errors.As(err, &te) && te.Panic != nil {
		ml.ErrorWithStack(err, "Transform panicked", "node_id", node, "signal_id", sig.ID)
		return
	}
	r.logger.Warn("Transform failed", "node_id", node, "signal_id", sig.ID, "error", err)
}
