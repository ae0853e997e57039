package audit

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/hupe1980/layermesh/core"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []core.CostEvent
	results []core.Result
	byID    map[core.SignalID]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[core.SignalID]int{}}
}

// Init implements Store.
func (s *MemoryStore) Init(context.Context) error { return nil }

// RecordCostEvent implements Sink.
func (s *MemoryStore) RecordCostEvent(_ context.Context, e core.CostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// RecordResult implements Sink. Recording the same submission twice keeps
// the latest result.
func (s *MemoryStore) RecordResult(_ context.Context, r core.Result) error {
	r = cloneResult(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byID[r.SubmissionID]; ok {
		s.results[i] = r
		return nil
	}
	s.byID[r.SubmissionID] = len(s.results)
	s.results = append(s.results, r)
	return nil
}

// CostEvents implements Store.
func (s *MemoryStore) CostEvents(_ context.Context, endpoint string) ([]core.CostEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.CostEvent, 0, len(s.events))
	for _, e := range s.events {
		if endpoint == "" || e.Endpoint == endpoint {
			out = append(out, e)
		}
	}
	return out, nil
}

// Result implements Store.
func (s *MemoryStore) Result(_ context.Context, id core.SignalID) (core.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return core.Result{}, false, nil
	}
	return cloneResult(s.results[i]), true, nil
}

// Results implements Store. Results are ordered by finish time, newest first.
func (s *MemoryStore) Results(_ context.Context, limit int) ([]core.Result, error) {
	s.mu.RLock()
	out := make([]core.Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, cloneResult(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].FinishedAt.After(out[j].FinishedAt)
		}
		return out[i].SubmissionID > out[j].SubmissionID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func cloneResult(r core.Result) core.Result {
	r.Outputs = append([]core.Output(nil), r.Outputs...)
	r.DropReasons = maps.Clone(r.DropReasons)
	return r
}
