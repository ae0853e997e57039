package metrics

import (
	"strings"
	"sync"
)

type histogram struct {
	count int
	sum   float64
}

// InMemory is a Collector that keeps every value in process memory.
// It is safe for concurrent use.
type InMemory struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histogram
}

// NewInMemory constructs an empty in-memory collector.
func NewInMemory() *InMemory {
	return &InMemory{
		counters:   map[string]float64{},
		gauges:     map[string]float64{},
		histograms: map[string]*histogram{},
	}
}

func key(name Name, labels []string) string {
	if len(labels) == 0 {
		return string(name)
	}
	return string(name) + "|" + strings.Join(labels, "|")
}

// Inc implements Collector.
func (m *InMemory) Inc(name Name, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key(name, labels)]++
}

// Set implements Collector.
func (m *InMemory) Set(name Name, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[key(name, labels)] = value
}

// Observe implements Collector.
func (m *InMemory) Observe(name Name, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(name, labels)
	h, ok := m.histograms[k]
	if !ok {
		h = &histogram{}
		m.histograms[k] = h
	}
	h.count++
	h.sum += value
}

// Counter returns the value of one labelled counter.
func (m *InMemory) Counter(name Name, labels ...string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key(name, labels)]
}

// CounterTotal sums a counter across all label values.
func (m *InMemory) CounterTotal(name Name) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := string(name) + "|"
	total := 0.0
	for k, v := range m.counters {
		if k == string(name) || strings.HasPrefix(k, prefix) {
			total += v
		}
	}
	return total
}

// Gauge returns the last value set for one labelled gauge.
func (m *InMemory) Gauge(name Name, labels ...string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[key(name, labels)]
}

// HistogramCount returns how many observations a labelled histogram received.
func (m *InMemory) HistogramCount(name Name, labels ...string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.histograms[key(name, labels)]; ok {
		return h.count
	}
	return 0
}
