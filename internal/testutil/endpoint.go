package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/layermesh/cognition"
)

// RecordingEndpoint is a cognition.Endpoint that records every request.
// By default it answers "FORWARD: <prompt>" at a fixed cost.
type RecordingEndpoint struct {
	mu       sync.Mutex
	requests []cognition.Request
	reply    func(req cognition.Request) string
	cost     float64
	delay    time.Duration
	err      error
}

// NewRecordingEndpoint creates an endpoint charging cost per call.
func NewRecordingEndpoint(cost float64) *RecordingEndpoint {
	return &RecordingEndpoint{
		cost:  cost,
		reply: func(req cognition.Request) string { return "FORWARD: " + req.Prompt },
	}
}

// Reply overrides the reply generator (chainable).
func (e *RecordingEndpoint) Reply(fn func(req cognition.Request) string) *RecordingEndpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reply = fn
	return e
}

// Delay makes every call wait d or until its context ends (chainable).
func (e *RecordingEndpoint) Delay(d time.Duration) *RecordingEndpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
	return e
}

// FailWith makes every call return err. Pass nil to heal.
func (e *RecordingEndpoint) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Call implements cognition.Endpoint.
func (e *RecordingEndpoint) Call(ctx context.Context, req cognition.Request) (cognition.Response, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	reply, delay, err, cost := e.reply, e.delay, e.err, e.cost
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return cognition.Response{}, ctx.Err()
		}
	}
	if err != nil {
		return cognition.Response{}, fmt.Errorf("recording endpoint: %w", err)
	}
	return cognition.Response{Text: reply(req), Cost: cost}, nil
}

// Calls returns the number of requests received.
func (e *RecordingEndpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// Requests returns a copy of the received requests.
func (e *RecordingEndpoint) Requests() []cognition.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]cognition.Request(nil), e.requests...)
}
