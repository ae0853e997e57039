package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
)

// AsyncOptions configures an Async sink.
type AsyncOptions struct {
	// Buffer is the number of pending records. Defaults to 1024.
	Buffer int
	// WriteTimeout bounds each write to the underlying sink. Defaults to 5s.
	WriteTimeout time.Duration
	Logger       logging.Logger
}

type record struct {
	event  *core.CostEvent
	result *core.Result
}

// Async forwards records to a Sink on its own goroutine. Enqueueing never
// blocks; records that do not fit the buffer are dropped and counted.
type Async struct {
	sink    Sink
	timeout time.Duration
	logger  logging.Logger

	mu      sync.RWMutex
	closed  bool
	ch      chan record
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsync starts forwarding to sink.
func NewAsync(sink Sink, optFns ...func(o *AsyncOptions)) *Async {
	opts := AsyncOptions{Buffer: 1024, WriteTimeout: 5 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	a := &Async{
		sink:    sink,
		timeout: opts.WriteTimeout,
		logger:  opts.Logger,
		ch:      make(chan record, opts.Buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// CostEvent enqueues e. It has the shape of core.CostEventHandler.
func (a *Async) CostEvent(e core.CostEvent) { a.enqueue(record{event: &e}) }

// Result enqueues r. It has the shape of the router's OnResult hook.
func (a *Async) Result(r core.Result) { a.enqueue(record{result: &r}) }

// Dropped returns how many records were discarded because the buffer was full
// or the sink was closed.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) enqueue(rec record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- rec:
	default:
		a.dropped.Add(1)
		a.logger.Warn("Audit buffer full, record dropped")
	}
}

func (a *Async) run() {
	defer close(a.done)
	for rec := range a.ch {
		a.write(rec)
	}
}

func (a *Async) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	var err error
	switch {
	case rec.event != nil:
		err = a.sink.RecordCostEvent(ctx, *rec.event)
	case rec.result != nil:
		err = a.sink.RecordResult(ctx, *rec.result)
	}
	if err != nil {
		a.logger.Warn("Audit write failed", "error", err)
	}
}

// Close stops accepting records and waits until the buffer is flushed or ctx
// is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
