// Package audit records cost events and finished submission results.
//
// Stores are synchronous. The Async wrapper decouples them from the router
// workers and cognition clients, whose callbacks must not block.
package audit

import (
	"context"
	"fmt"

	"github.com/hupe1980/layermesh/core"
)

// Sink receives audit records.
type Sink interface {
	RecordCostEvent(ctx context.Context, e core.CostEvent) error
	RecordResult(ctx context.Context, r core.Result) error
}

// Store is a queryable Sink.
type Store interface {
	Sink
	Init(ctx context.Context) error
	// CostEvents lists events in insertion order; an empty endpoint lists all.
	CostEvents(ctx context.Context, endpoint string) ([]core.CostEvent, error)
	// Result returns the recorded result of a submission.
	Result(ctx context.Context, id core.SignalID) (core.Result, bool, error)
	// Results returns up to limit results ordered by finish time, newest
	// first. A non-positive limit returns all.
	Results(ctx context.Context, limit int) ([]core.Result, error)
	Close() error
}

// NewStore builds a store by driver name: "memory" (also the empty string),
// "sqlite" or "none". The store still needs Init.
func NewStore(driver, path string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite audit store requires a path")
		}
		return NewSQLiteStore(path), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}
}

// Discard is a Store that keeps nothing.
type Discard struct{}

// Init implements Store.
func (Discard) Init(context.Context) error { return nil }

// RecordCostEvent implements Sink.
func (Discard) RecordCostEvent(context.Context, core.CostEvent) error { return nil }

// RecordResult implements Sink.
func (Discard) RecordResult(context.Context, core.Result) error { return nil }

// CostEvents implements Store.
func (Discard) CostEvents(context.Context, string) ([]core.CostEvent, error) { return nil, nil }

// Result implements Store.
func (Discard) Result(context.Context, core.SignalID) (core.Result, bool, error) {
	return core.Result{}, false, nil
}

// Results implements Store.
func (Discard) Results(context.Context, int) ([]core.Result, error) { return nil, nil }

// Close implements Store.
func (Discard) Close() error { return nil }
