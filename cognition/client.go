package cognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hupe1980/layermesh/core"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
)

var tracer = otel.Tracer("github.com/hupe1980/layermesh/cognition")

// Config holds the per-endpoint tuning of a Client.
type Config struct {
	// CallTimeout bounds every external call. An unbounded call is never made.
	CallTimeout time.Duration
	// EstimatedCallCost is the projected cost used for budget admission
	// before the real cost is known.
	EstimatedCallCost float64
	Breaker           BreakerConfig
	Ledger            LedgerConfig
	Limiter           LimiterConfig
}

// DefaultConfig provides conservative defaults: 30s deadline, default
// breaker, hourly window without limits, no rate limiting.
var DefaultConfig = Config{
	CallTimeout: 30 * time.Second,
	Breaker:     DefaultBreakerConfig,
	Ledger:      DefaultLedgerConfig,
}

// Options configures a Client.
type Options struct {
	Config Config
	// Fallback is the degraded path. Defaults to DefaultFallback.
	Fallback FallbackFunc
	// OnCostEvent receives soft/hard limit and window reset events.
	OnCostEvent core.CostEventHandler
	// OnTransition observes breaker transitions in addition to logs and metrics.
	OnTransition func(from, to BreakerState)
	Logger       logging.Logger
	Metrics      metrics.Collector
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Client is the hybrid external/local cognition client of one logical endpoint.
// It is safe for concurrent use by many workers.
type Client struct {
	name         string
	endpoint     Endpoint
	cfg          Config
	fallback     FallbackFunc
	logger       logging.Logger
	metrics      metrics.Collector
	ledger       *Ledger
	breaker      *Breaker
	limiter      *Limiter
	onTransition func(from, to BreakerState)
}

// NewClient creates a client for the named endpoint.
func NewClient(name string, endpoint Endpoint, optFns ...func(o *Options)) *Client {
	opts := Options{
		Config:   DefaultConfig,
		Fallback: DefaultFallback,
		Logger:   logging.NoOpLogger{},
		Metrics:  metrics.NoOp{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config.CallTimeout <= 0 {
		opts.Config.CallTimeout = DefaultConfig.CallTimeout
	}
	if opts.Fallback == nil {
		opts.Fallback = DefaultFallback
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	opts.Metrics = metrics.OrNoOp(opts.Metrics)

	c := &Client{
		name:         name,
		endpoint:     endpoint,
		cfg:          opts.Config,
		fallback:     opts.Fallback,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		onTransition: opts.OnTransition,
	}
	c.ledger = NewLedger(name, opts.Config.Ledger, opts.Now, opts.OnCostEvent, opts.Metrics)
	c.breaker = NewBreaker(opts.Config.Breaker, opts.Now, c.observeTransition)
	c.limiter = NewLimiter(opts.Config.Limiter)
	c.metrics.Set(metrics.BreakerState, float64(BreakerClosed), name)
	return c
}

// Name returns the logical endpoint name.
func (c *Client) Name() string { return c.name }

// Ledger exposes the endpoint's cost ledger.
func (c *Client) Ledger() *Ledger { return c.ledger }

// Breaker exposes the endpoint's circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Invoke runs the decision procedure for one request and never returns a raw
// endpoint error.
func (c *Client) Invoke(ctx context.Context, req Request) Outcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	estimate := req.EstimatedCost
	if estimate <= 0 {
		estimate = c.cfg.EstimatedCallCost
	}
	if !c.ledger.Admit(estimate) {
		return c.degrade(req, ReasonBudgetExhausted, nil)
	}

	permit, ok := c.breaker.Acquire()
	if !ok {
		c.ledger.Cancel(estimate)
		return c.degrade(req, ReasonCircuitOpen, nil)
	}

	if err := c.limiter.Acquire(ctx, req.LimitMode); err != nil {
		c.ledger.Cancel(estimate)
		c.breaker.Release(permit)
		c.metrics.Inc(metrics.CognitionRejectedCalls, c.name, string(ReasonRateLimited))
		c.logger.Warn("cognition call rate limited", "endpoint", c.name, "request_id", req.ID)
		return Outcome{Kind: Rejected, Reason: ReasonRateLimited, Err: err}
	}

	start := time.Now()
	resp, err := c.call(ctx, req)
	elapsed := time.Since(start)
	c.metrics.Observe(metrics.CognitionCallDuration, elapsed.Seconds(), c.name)

	if err != nil {
		c.ledger.Cancel(estimate)
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			// caller went away; not the endpoint's fault
			c.breaker.Release(permit)
		} else {
			c.breaker.Failure(permit)
		}
		c.logCall(req, "failed", 0, elapsed, err)
		return c.degrade(req, ReasonCallFailed, err)
	}

	c.ledger.Settle(estimate, resp.Cost)
	c.breaker.Success(permit)
	c.metrics.Inc(metrics.CognitionRealCalls, c.name)
	c.logCall(req, Real.String(), resp.Cost, elapsed, nil)
	return Outcome{Kind: Real, Response: resp}
}

func (c *Client) logCall(req Request, outcome string, cost float64, dur time.Duration, err error) {
	if ml, ok := c.logger.(*logging.MeshLogger); ok {
		ml.WithContext("request_id", req.ID).LogCognitionCall(c.name, outcome, cost, dur, err)
		return
	}
	if err != nil {
		c.logger.Warn("cognition call failed", "endpoint", c.name, "request_id", req.ID, "duration", dur, "error", err)
		return
	}
	c.logger.Debug("cognition call completed", "endpoint", c.name, "request_id", req.ID, "duration", dur, "cost", cost)
}

// Fallback serves req from the local generator directly, bypassing every
// guard. Callers use it to degrade after a Rejected(RateLimited) outcome.
func (c *Client) Fallback(req Request, reason Reason) Outcome {
	return c.degrade(req, reason, nil)
}

func (c *Client) call(ctx context.Context, req Request) (resp Response, err error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	cctx, span := tracer.Start(cctx, "cognition.call")
	span.SetAttributes(
		attribute.String("cognition.endpoint", c.name),
		attribute.String("cognition.request_id", req.ID),
		attribute.Int("cognition.layer", int(req.Layer)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("endpoint %s panicked: %v", c.name, r)}
			}
		}()
		r, e := c.endpoint.Call(cctx, req)
		done <- result{resp: r, err: e}
	}()

	// the deadline is enforced here even if the endpoint ignores ctx
	select {
	case r := <-done:
		if r.err == nil && cctx.Err() != nil {
			return Response{}, cctx.Err()
		}
		return r.resp, r.err
	case <-cctx.Done():
		return Response{}, fmt.Errorf("endpoint %s: %w", c.name, cctx.Err())
	}
}

func (c *Client) degrade(req Request, reason Reason, cause error) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = c.rejectFallback(req, fmt.Errorf("%w: panic: %v", core.ErrFallbackFailed, r))
		}
	}()

	resp, err := c.fallback(req)
	if err != nil {
		return c.rejectFallback(req, fmt.Errorf("%w: %v", core.ErrFallbackFailed, err))
	}
	resp.Cost = 0
	c.metrics.Inc(metrics.CognitionFallbackCalls, c.name, string(reason))
	c.logger.Debug("cognition served by fallback", "endpoint", c.name, "request_id", req.ID, "reason", string(reason))
	return Outcome{Kind: Fallback, Response: resp, Reason: reason, Err: cause}
}

func (c *Client) rejectFallback(req Request, err error) Outcome {
	c.metrics.Inc(metrics.CognitionRejectedCalls, c.name, string(ReasonFallbackFailed))
	c.logger.Error("cognition fallback failed", "endpoint", c.name, "request_id", req.ID, "error", err)
	return Outcome{Kind: Rejected, Reason: ReasonFallbackFailed, Err: err}
}

func (c *Client) observeTransition(from, to BreakerState) {
	c.metrics.Inc(metrics.BreakerStateTransitions, c.name, from.String(), to.String())
	c.metrics.Set(metrics.BreakerState, float64(to), c.name)
	if ml, ok := c.logger.(*logging.MeshLogger); ok {
		ml.LogBreakerTransition(c.name, from.String(), to.String())
	} else {
		c.logger.Info("circuit breaker transition", "endpoint", c.name, "from", from.String(), "to", to.String())
	}
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}
