package metrics

// Kind is the metric family type.
type Kind int

const (
	// KindCounter is a monotonically increasing value.
	KindCounter Kind = iota
	// KindGauge is a value that can go up and down.
	KindGauge
	// KindHistogram is a distribution of observations.
	KindHistogram
)

// Name identifies a metric family.
type Name string

// Counters.
const (
	SignalsSubmitted        Name = "signals_submitted"
	SignalsProcessed        Name = "signals_processed"
	SignalsDropped          Name = "signals_dropped"
	SignalsExpired          Name = "signals_expired"
	NodeTransformErrors     Name = "node_transform_errors"
	CognitionRealCalls      Name = "cognition_real_calls"
	CognitionFallbackCalls  Name = "cognition_fallback_calls"
	CognitionRejectedCalls  Name = "cognition_rejected_calls"
	BreakerStateTransitions Name = "breaker_state_transitions"
	CostEvents              Name = "cost_events"
	CacheLookups            Name = "cache_lookups"
	TopologyMutations       Name = "topology_mutations"
)

// Gauges.
const (
	QueueDepth         Name = "queue_depth"
	CostLedgerSpent    Name = "cost_ledger_spent"
	BreakerState       Name = "breaker_state"
	TopologyGeneration Name = "topology_generation"
)

// Histograms.
const (
	TransformDuration     Name = "transform_duration_seconds"
	CognitionCallDuration Name = "cognition_call_duration_seconds"
)

// Definition describes one metric family.
type Definition struct {
	Name    Name
	Kind    Kind
	Help    string
	Labels  []string
	Buckets []float64
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Definitions lists every metric family reported by layermesh.
var Definitions = []Definition{
	{Name: SignalsSubmitted, Kind: KindCounter, Help: "Signals accepted from external submitters", Labels: []string{"node"}},
	{Name: SignalsProcessed, Kind: KindCounter, Help: "Signals transformed by a node", Labels: []string{"node"}},
	{Name: SignalsDropped, Kind: KindCounter, Help: "Signal copies dropped by reason", Labels: []string{"node", "reason"}},
	{Name: SignalsExpired, Kind: KindCounter, Help: "Signals expired by hop budget or queue age", Labels: []string{"node"}},
	{Name: NodeTransformErrors, Kind: KindCounter, Help: "Transform failures and recovered panics", Labels: []string{"node"}},
	{Name: CognitionRealCalls, Kind: KindCounter, Help: "Calls that reached the external endpoint and succeeded", Labels: []string{"endpoint"}},
	{Name: CognitionFallbackCalls, Kind: KindCounter, Help: "Invocations served by the local fallback", Labels: []string{"endpoint", "reason"}},
	{Name: CognitionRejectedCalls, Kind: KindCounter, Help: "Invocations rejected without a response", Labels: []string{"endpoint", "reason"}},
	{Name: BreakerStateTransitions, Kind: KindCounter, Help: "Circuit breaker state transitions", Labels: []string{"endpoint", "from", "to"}},
	{Name: CostEvents, Kind: KindCounter, Help: "Cost ledger limit events", Labels: []string{"endpoint", "kind"}},
	{Name: CacheLookups, Kind: KindCounter, Help: "Result cache lookups by outcome", Labels: []string{"cache", "result"}},
	{Name: TopologyMutations, Kind: KindCounter, Help: "Topology mutations by operation and outcome", Labels: []string{"op", "result"}},
	{Name: QueueDepth, Kind: KindGauge, Help: "Pending signals in a node inbox", Labels: []string{"node"}},
	{Name: CostLedgerSpent, Kind: KindGauge, Help: "Spend in the current ledger window", Labels: []string{"endpoint"}},
	{Name: BreakerState, Kind: KindGauge, Help: "Breaker state (0 closed, 1 open, 2 half-open)", Labels: []string{"endpoint"}},
	{Name: TopologyGeneration, Kind: KindGauge, Help: "Current topology generation"},
	{Name: TransformDuration, Kind: KindHistogram, Help: "Node transform latency", Labels: []string{"node"}, Buckets: latencyBuckets},
	{Name: CognitionCallDuration, Kind: KindHistogram, Help: "External cognition call latency", Labels: []string{"endpoint"}, Buckets: latencyBuckets},
}

// Lookup returns the definition for name.
func Lookup(name Name) (Definition, bool) {
	for _, d := range Definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Collector receives metric updates. Label values are positional and must
// match the family's Definition. Implementations must be safe for concurrent use.
type Collector interface {
	Inc(name Name, labels ...string)
	Set(name Name, value float64, labels ...string)
	Observe(name Name, value float64, labels ...string)
}

// NoOp discards all metrics.
type NoOp struct{}

// Inc implements Collector.
func (NoOp) Inc(Name, ...string) {}

// Set implements Collector.
func (NoOp) Set(Name, float64, ...string) {}

// Observe implements Collector.
func (NoOp) Observe(Name, float64, ...string) {}

// multi fans updates out to several collectors.
type multi []Collector

// Fanout returns a Collector forwarding every update to all cs.
func Fanout(cs ...Collector) Collector { return multi(cs) }

func (m multi) Inc(name Name, labels ...string) {
	for _, c := range m {
		c.Inc(name, labels...)
	}
}

func (m multi) Set(name Name, value float64, labels ...string) {
	for _, c := range m {
		c.Set(name, value, labels...)
	}
}

func (m multi) Observe(name Name, value float64, labels ...string) {
	for _, c := range m {
		c.Observe(name, value, labels...)
	}
}

// OrNoOp returns c, or NoOp when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOp{}
	}
	return c
}
