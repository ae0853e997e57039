package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
	"github.com/hupe1980/layermesh/topology"
)

// Config holds the scheduling parameters of a Router.
type Config struct {
	// Workers is the size of the worker pool. Values below one mean one.
	Workers int

	// DefaultTTL is the hop budget of submissions that do not set one.
	DefaultTTL int

	// MaxQueueAge force-expires envelopes that waited longer than this in an
	// inbox. Zero disables the wall-clock guard; the hop budget still applies.
	MaxQueueAge time.Duration

	// WatchdogInterval is how often queue ages are checked, drained nodes are
	// reaped and old results are evicted. Zero disables the watchdog.
	WatchdogInterval time.Duration

	// ResultRetention is how long a finished result stays available to Await.
	// Zero keeps results until Shutdown.
	ResultRetention time.Duration
}

// DefaultConfig is used by New unless overridden.
//
//   - Workers: 4
//   - DefaultTTL: 16 hops
//   - MaxQueueAge: disabled
//   - WatchdogInterval: 1s
//   - ResultRetention: 5m
var DefaultConfig = Config{
	Workers:          4,
	DefaultTTL:       16,
	WatchdogInterval: time.Second,
	ResultRetention:  5 * time.Minute,
}

// Options configures a Router.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Logger defaults to a NoOp logger. A *logging.MeshLogger additionally
	// receives per-signal routing records at debug level.
	Logger logging.Logger

	// Metrics defaults to NoOp.
	Metrics metrics.Collector

	// OnResult is called once per submission when it finishes. It runs on a
	// worker goroutine and must not block.
	OnResult func(core.Result)

	// Now defaults to time.Now.
	Now func() time.Time
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Router moves signals between the nodes of a topology.Manager.
type Router struct {
	topo    *topology.Manager
	cfg     Config
	logger  logging.Logger
	metrics metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time

	ids     core.IDGenerator
	ready   *readyRing
	tracker *tracker
	routes  *routeCache

	admit     sync.RWMutex
	state     state
	group     *errgroup.Group
	cancel    context.CancelFunc
	stop      chan struct{}
	stopAfter func() bool
}

// New creates a Router over topo. Call Start before submitting.
func New(topo *topology.Manager, optFns ...func(o *Options)) *Router {
	opts := Options{
		Config:  DefaultConfig,
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NoOp{},
		Now:     time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if ml, ok := opts.Logger.(*logging.MeshLogger); ok {
		opts.Logger = ml.WithComponent("router")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config.Workers < 1 {
		opts.Config.Workers = 1
	}
	if opts.Config.DefaultTTL < 0 {
		opts.Config.DefaultTTL = 0
	}

	return &Router{
		topo:    topo,
		cfg:     opts.Config,
		logger:  opts.Logger,
		metrics: metrics.OrNoOp(opts.Metrics),
		tracer:  otel.Tracer("github.com/hupe1980/layermesh/router"),
		now:     opts.Now,
		ready:   newReadyRing(),
		tracker: newTracker(opts.Now, opts.OnResult),
		routes:  newRouteCache(),
		stop:    make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

// Start launches the worker pool and the watchdog. Cancelling ctx shuts the
// router down as if Shutdown had been called with an expired deadline.
func (r *Router) Start(ctx context.Context) error {
	r.admit.Lock()
	defer r.admit.Unlock()
	switch r.state {
	case stateRunning:
		return errors.New("router already started")
	case stateStopping, stateStopped:
		return core.ErrShuttingDown
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	if r.cfg.WatchdogInterval > 0 {
		g.Go(func() error {
			r.watch(gctx)
			return nil
		})
	}

	r.group = g
	r.cancel = cancel
	r.state = stateRunning
	r.stopAfter = context.AfterFunc(ctx, func() {
		expired, done := context.WithCancel(context.Background())
		done()
		_ = r.Shutdown(expired)
	})
	r.logger.Info("Router started", "workers", r.cfg.Workers, "default_ttl", r.cfg.DefaultTTL)
	return nil
}

// SubmitOption customizes one submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	ttl      int
	metadata map[string]string
}

// WithTTL overrides the hop budget of the submission.
func WithTTL(ttl int) SubmitOption {
	return func(o *submitOptions) { o.ttl = ttl }
}

// WithMetadata attaches metadata inherited by every derived signal.
func WithMetadata(md map[string]string) SubmitOption {
	return func(o *submitOptions) {
		if o.metadata == nil {
			o.metadata = map[string]string{}
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// Submit enqueues payload at the entry node and returns the submission id.
// A full inbox under the reject-new policy fails with core.ErrQueueFull and
// the submission is not tracked.
func (r *Router) Submit(ctx context.Context, entry core.NodeID, payload []byte, opts ...SubmitOption) (core.SignalID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	so := submitOptions{ttl: r.cfg.DefaultTTL}
	for _, o := range opts {
		o(&so)
	}

	r.admit.RLock()
	defer r.admit.RUnlock()
	switch r.state {
	case stateNew:
		return 0, core.ErrNotStarted
	case stateStopping, stateStopped:
		return 0, core.ErrShuttingDown
	}

	n, ok := r.topo.Node(entry)
	if !ok {
		return 0, fmt.Errorf("submit to %s: %w", entry, core.ErrUnknownNode)
	}
	if !n.Active() {
		return 0, fmt.Errorf("submit to %s: %w", entry, core.ErrNodeNotActive)
	}

	id := r.ids.Next()
	sig := core.NewSignal(id, n.Layer(), payload, so.ttl)
	for k, v := range so.metadata {
		sig.Metadata[k] = v
	}

	r.tracker.open(id, entry)
	res, err := n.Inbox().Push(topology.Envelope{Signal: sig, EnqueuedAt: r.now()})
	if err != nil {
		r.tracker.forget(id)
		r.metrics.Inc(metrics.SignalsDropped, string(entry), string(core.DropQueueFull))
		return 0, fmt.Errorf("submit to %s: %w", entry, err)
	}
	r.metrics.Inc(metrics.SignalsSubmitted, string(entry))
	r.pushed(n, res)
	return id, nil
}

// Await blocks until the submission finishes or ctx is done. Results are
// retained for Config.ResultRetention after they finish.
func (r *Router) Await(ctx context.Context, id core.SignalID) (core.Result, error) {
	s, ok := r.tracker.get(id)
	if !ok {
		return core.Result{}, fmt.Errorf("await %d: %w", id, core.ErrUnknownSubmission)
	}
	select {
	case <-s.done:
		return s.snapshot(), nil
	case <-ctx.Done():
		return s.snapshot(), ctx.Err()
	}
}

// SubmitAndWait is Submit followed by Await.
func (r *Router) SubmitAndWait(ctx context.Context, entry core.NodeID, payload []byte, opts ...SubmitOption) (core.Result, error) {
	id, err := r.Submit(ctx, entry, payload, opts...)
	if err != nil {
		return core.Result{}, err
	}
	return r.Await(ctx, id)
}

// Shutdown stops admission, lets the transforms already running finish and
// drops everything still queued. If ctx ends first, running transforms are
// cancelled and Shutdown returns ctx.Err() without waiting for them; every
// pending submission is finished either way.
func (r *Router) Shutdown(ctx context.Context) error {
	r.admit.Lock()
	switch r.state {
	case stateNew:
		r.state = stateStopped
		r.admit.Unlock()
		return nil
	case stateStopping, stateStopped:
		r.admit.Unlock()
		return nil
	}
	r.state = stateStopping
	r.admit.Unlock()

	logStopped := func(args ...any) { r.logger.Info("Router stopped", args...) }
	if ml, ok := r.logger.(*logging.MeshLogger); ok {
		logStopped = ml.StartTimer("router shutdown")
	}

	if r.stopAfter != nil {
		r.stopAfter()
	}
	close(r.stop)
	r.ready.close()

	done := make(chan error, 1)
	go func() { done <- r.group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		r.cancel()
		err = ctx.Err()
	}

	r.admit.Lock()
	r.state = stateStopped
	r.admit.Unlock()

	dropped := r.drainAll()
	r.tracker.abort(core.DropShutdown)
	r.cancel()

	logStopped("dropped", dropped)
	return err
}

// drainAll drops every queued envelope.
func (r *Router) drainAll() int {
	dropped := 0
	for _, n := range r.topo.Nodes() {
		for _, env := range n.Inbox().Drain() {
			r.drop(n.ID(), env.Signal, core.DropShutdown, true)
			dropped++
		}
		r.metrics.Set(metrics.QueueDepth, 0, string(n.ID()))
	}
	return dropped
}

func (r *Router) stopped() bool {
	r.admit.RLock()
	defer r.admit.RUnlock()
	return r.state == stateStopped
}

// Stats is a point-in-time view of the router.
type Stats struct {
	Running      bool
	Workers      int
	Tracked      int
	Pending      int
	ReadyNodes   int
	QueueDepth   map[core.NodeID]int
	CachedRoutes int
	Generation   uint64
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	r.admit.RLock()
	running := r.state == stateRunning
	r.admit.RUnlock()

	tracked, pending := r.tracker.counts()
	st := Stats{
		Running:      running,
		Workers:      r.cfg.Workers,
		Tracked:      tracked,
		Pending:      pending,
		ReadyNodes:   r.ready.len(),
		QueueDepth:   map[core.NodeID]int{},
		CachedRoutes: r.routes.len(),
		Generation:   r.topo.Generation(),
	}
	for _, n := range r.topo.Nodes() {
		st.QueueDepth[n.ID()] = n.Inbox().Len()
	}
	return st
}
