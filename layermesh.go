// Package layermesh provides a high-level façade over the topology manager,
// the signal router and the hybrid cognition clients, enabling rapid
// construction of layered processing meshes. Most applications interact with
// this package by:
//  1. Creating a Mesh via New() or NewFromConfig()
//  2. Registering cognition endpoints and custom transforms
//  3. Declaring nodes and links (AddNode/Link or Apply)
//  4. Starting the router and submitting signals (Submit/Await or SubmitAndWait)
//
// The façade delegates scheduling to router.Router and topology ownership to
// topology.Manager while keeping setup concise. All defaults are in-memory and
// safe for local development and testing.
package layermesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/layermesh/audit"
	"github.com/hupe1980/layermesh/cache"
	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
	"github.com/hupe1980/layermesh/router"
	"github.com/hupe1980/layermesh/topology"
	"github.com/hupe1980/layermesh/transform"
)

// Options configures the Mesh instance.
type Options struct {
	// Layers is the accepted layer range. Defaults to core.DefaultLayerRange.
	Layers core.LayerRange

	// RouterConfig holds worker count, hop budget and watchdog settings.
	RouterConfig router.Config

	// InboxCapacity and InboxPolicy are the defaults of nodes that do not
	// set their own.
	InboxCapacity int
	InboxPolicy   topology.Policy

	// CacheCapacity bounds the cognition reply cache. CacheTTL expires
	// entries by age in addition to topology changes. DisableCache turns
	// memoization off entirely.
	CacheCapacity int
	CacheTTL      time.Duration
	DisableCache  bool

	// Aggregator merges batch payloads. Defaults to transform.JoinLines.
	Aggregator transform.Aggregator

	// Logger defaults to a NoOp logger.
	Logger logging.Logger

	// Metrics defaults to an in-memory collector.
	Metrics metrics.Collector

	// Audit receives finished results and cost events. Defaults to an
	// in-memory store. Shutdown closes it.
	Audit audit.Store
}

// Mesh is the high-level façade aggregating topology, router and cognition.
type Mesh struct {
	opts       Options
	topo       *topology.Manager
	router     *router.Router
	endpoints  *cognition.Registry
	cache      *cache.LRU[string, string]
	transforms *transform.Registry
	audit      audit.Store
	recorder   *audit.Async
	metrics    metrics.Collector
	prom       *metrics.PrometheusCollector
	logger     logging.Logger
	unsub      func()

	mu          sync.Mutex
	stopAfter   func() bool
	auditClosed bool
}

// auditFlushTimeout bounds the audit flush after the Start context ends.
const auditFlushTimeout = 5 * time.Second

// New creates a Mesh with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Layers:        core.DefaultLayerRange,
		RouterConfig:  router.DefaultConfig,
		InboxCapacity: topology.DefaultInboxCapacity,
		InboxPolicy:   topology.RejectNew,
		CacheCapacity: 1024,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewInMemory()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemoryStore()
	}

	m := &Mesh{
		opts:      opts,
		endpoints: cognition.NewRegistry(),
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	unsub := func() {}
	m.topo = topology.NewManager(func(o *topology.Options) {
		o.Layers = opts.Layers
		o.InboxCapacity = opts.InboxCapacity
		o.Policy = opts.InboxPolicy
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	if !opts.DisableCache {
		m.cache = cache.New[string, string](func(o *cache.Options) {
			o.Name = "cognition"
			o.Capacity = opts.CacheCapacity
			o.TTL = opts.CacheTTL
			o.Metrics = opts.Metrics
		})
		unsub = m.topo.Subscribe(func(gen uint64) { m.cache.Observe(gen) })
	}
	m.unsub = sync.OnceFunc(unsub)
	m.transforms = transform.Builtins(transform.Deps{
		Endpoints:  m.endpoints,
		Cache:      m.cache,
		Generation: m.topo.Generation,
		Layers:     opts.Layers,
		Aggregator: opts.Aggregator,
		Logger:     opts.Logger,
	})
	m.recorder = audit.NewAsync(opts.Audit, func(o *audit.AsyncOptions) {
		o.Logger = opts.Logger
	})
	m.router = router.New(m.topo, func(o *router.Options) {
		o.Config = opts.RouterConfig
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.OnResult = m.recorder.Result
	})
	return m
}

// RegisterEndpoint wraps endpoint in a cognition client and makes it
// available to cognitive transforms under name. Cost events are recorded in
// the audit store in addition to any handler set in optFns.
func (m *Mesh) RegisterEndpoint(name string, endpoint cognition.Endpoint, optFns ...func(o *cognition.Options)) (*cognition.Client, error) {
	client := cognition.NewClient(name, endpoint, func(o *cognition.Options) {
		o.Logger = m.logger
		o.Metrics = m.metrics
		for _, fn := range optFns {
			fn(o)
		}
		user := o.OnCostEvent
		o.OnCostEvent = func(e core.CostEvent) {
			m.recorder.CostEvent(e)
			if user != nil {
				user(e)
			}
		}
	})
	if err := m.endpoints.Register(client); err != nil {
		return nil, err
	}
	return client, nil
}

// Endpoint returns a registered cognition client.
func (m *Mesh) Endpoint(name string) (*cognition.Client, bool) { return m.endpoints.Get(name) }

// RegisterTransform adds a custom transform factory under selector.
func (m *Mesh) RegisterTransform(selector string, f transform.Factory) error {
	return m.transforms.Register(selector, f)
}

// AddNode registers a node. A spec without a Transform is built from its
// Selector through the transform registry.
func (m *Mesh) AddNode(spec topology.NodeSpec) (core.NodeID, error) {
	if spec.Transform == nil && spec.Selector != "" {
		if spec.ID == "" {
			spec.ID = core.NewNodeID()
		}
		t, err := m.transforms.Build(spec.Selector, core.NodeInfo{ID: spec.ID, Layer: spec.Layer, Settings: spec.Settings})
		if err != nil {
			return "", err
		}
		spec.Transform = t
	}
	return m.topo.AddNode(spec)
}

// Link connects a to the adjacent-layer node b in both directions.
func (m *Mesh) Link(a, b core.NodeID) error { return m.topo.Link(a, b) }

// Unlink removes the link between a and b.
func (m *Mesh) Unlink(a, b core.NodeID) error { return m.topo.Unlink(a, b) }

// Rewire replaces the link sets of id.
func (m *Mesh) Rewire(id core.NodeID, forward, backward []core.NodeID) error {
	return m.topo.Rewire(id, forward, backward)
}

// RemoveNode drains id. Queued signals are still processed; the node is
// reaped once idle.
func (m *Mesh) RemoveNode(id core.NodeID) error { return m.topo.RemoveNode(id) }

// Apply reconciles the topology with decls, building transforms through the
// transform registry.
func (m *Mesh) Apply(decls []topology.Declaration) (topology.ApplyReport, error) {
	return m.topo.Apply(decls, m.transforms.Build)
}

// Snapshot returns the current immutable topology view.
func (m *Mesh) Snapshot() *topology.Snapshot { return m.topo.Snapshot() }

// Topology exposes the underlying manager.
func (m *Mesh) Topology() *topology.Manager { return m.topo }

// Start launches the router. Cancelling ctx shuts the mesh down: running
// transforms are cancelled, queued signals dropped, and audit records flushed
// before the store is closed.
func (m *Mesh) Start(ctx context.Context) error {
	if err := m.router.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	m.mu.Lock()
	m.stopAfter = context.AfterFunc(ctx, m.stopOnCancel)
	m.mu.Unlock()
	return nil
}

func (m *Mesh) stopOnCancel() {
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	m.unsub()
	_ = m.router.Shutdown(expired)

	flushCtx, done := context.WithTimeout(context.Background(), auditFlushTimeout)
	defer done()
	if err := m.closeAudit(flushCtx); err != nil {
		m.logger.Warn("Audit not closed after cancellation", "error", err)
	}
}

// Submit injects payload at entry and returns the submission id.
func (m *Mesh) Submit(ctx context.Context, entry core.NodeID, payload []byte, opts ...router.SubmitOption) (core.SignalID, error) {
	return m.router.Submit(ctx, entry, payload, opts...)
}

// Await blocks until the submission finishes or ctx is done.
func (m *Mesh) Await(ctx context.Context, id core.SignalID) (core.Result, error) {
	return m.router.Await(ctx, id)
}

// SubmitAndWait is a synchronous helper combining Submit and Await.
func (m *Mesh) SubmitAndWait(ctx context.Context, entry core.NodeID, payload []byte, opts ...router.SubmitOption) (core.Result, error) {
	return m.router.SubmitAndWait(ctx, entry, payload, opts...)
}

// Shutdown stops the router, flushes pending audit records and closes the
// audit store. It returns once ctx is done at the latest. When the flush does
// not finish in time the store stays open; a later Shutdown retries.
func (m *Mesh) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopAfter != nil {
		m.stopAfter()
	}
	m.mu.Unlock()

	m.unsub()
	err := m.router.Shutdown(ctx)
	return errors.Join(err, m.closeAudit(ctx))
}

// closeAudit closes the store only after the recorder has written everything
// it accepted.
func (m *Mesh) closeAudit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditClosed {
		return nil
	}
	if err := m.recorder.Close(ctx); err != nil {
		return fmt.Errorf("flush audit records: %w", err)
	}
	m.auditClosed = true
	if err := m.audit.Close(); err != nil {
		return fmt.Errorf("close audit store: %w", err)
	}
	return nil
}

// Stats returns router counters.
func (m *Mesh) Stats() router.Stats { return m.router.Stats() }

// Audit returns the audit store.
func (m *Mesh) Audit() audit.Store { return m.audit }

// Metrics returns the metrics collector.
func (m *Mesh) Metrics() metrics.Collector { return m.metrics }

// Prometheus returns the Prometheus collector configured by NewFromConfig,
// or nil.
func (m *Mesh) Prometheus() *metrics.PrometheusCollector { return m.prom }

// Cache returns the cognition reply cache, or nil when disabled.
func (m *Mesh) Cache() *cache.LRU[string, string] { return m.cache }
