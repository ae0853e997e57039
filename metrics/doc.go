// Package metrics defines the counters, gauges and histograms every layermesh
// component reports, and the Collector implementations that receive them.
//
// Components depend only on the Collector interface. Three implementations
// are provided:
//
//   - NoOp discards everything (the default)
//   - InMemory keeps readable values, used by tests and Router.Stats
//   - PrometheusCollector exports registry-scoped vectors for scraping
//
// The metric set is fixed by Definitions so that every collector agrees on
// kinds and label names.
package metrics
