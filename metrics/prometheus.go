package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusOptions configures a PrometheusCollector.
type PrometheusOptions struct {
	// Namespace prefixes every metric name. Defaults to "layermesh".
	Namespace string
	// Registry receives the metric vectors. Defaults to a fresh registry so
	// several meshes can coexist in one process (and in tests).
	Registry *prometheus.Registry
}

// PrometheusCollector exports layermesh metrics as Prometheus vectors.
type PrometheusCollector struct {
	registry   *prometheus.Registry
	counters   map[Name]*prometheus.CounterVec
	gauges     map[Name]*prometheus.GaugeVec
	histograms map[Name]*prometheus.HistogramVec
}

// NewPrometheusCollector registers every family in Definitions.
func NewPrometheusCollector(optFns ...func(o *PrometheusOptions)) *PrometheusCollector {
	opts := PrometheusOptions{Namespace: "layermesh"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(opts.Registry)
	pc := &PrometheusCollector{
		registry:   opts.Registry,
		counters:   map[Name]*prometheus.CounterVec{},
		gauges:     map[Name]*prometheus.GaugeVec{},
		histograms: map[Name]*prometheus.HistogramVec{},
	}

	for _, d := range Definitions {
		switch d.Kind {
		case KindCounter:
			pc.counters[d.Name] = factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      string(d.Name) + "_total",
				Help:      d.Help,
			}, d.Labels)
		case KindGauge:
			pc.gauges[d.Name] = factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: opts.Namespace,
				Name:      string(d.Name),
				Help:      d.Help,
			}, d.Labels)
		case KindHistogram:
			pc.histograms[d.Name] = factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      string(d.Name),
				Help:      d.Help,
				Buckets:   d.Buckets,
			}, d.Labels)
		}
	}

	return pc
}

// Inc implements Collector. Unknown names and label mismatches are ignored.
func (p *PrometheusCollector) Inc(name Name, labels ...string) {
	if v, ok := p.counters[name]; ok {
		if c, err := v.GetMetricWithLabelValues(labels...); err == nil {
			c.Inc()
		}
	}
}

// Set implements Collector.
func (p *PrometheusCollector) Set(name Name, value float64, labels ...string) {
	if v, ok := p.gauges[name]; ok {
		if g, err := v.GetMetricWithLabelValues(labels...); err == nil {
			g.Set(value)
		}
	}
}

// Observe implements Collector.
func (p *PrometheusCollector) Observe(name Name, value float64, labels ...string) {
	if v, ok := p.histograms[name]; ok {
		if h, err := v.GetMetricWithLabelValues(labels...); err == nil {
			h.Observe(value)
		}
	}
}

// Registry returns the underlying registry.
func (p *PrometheusCollector) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
