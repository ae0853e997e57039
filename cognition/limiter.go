package cognition

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/layermesh/core"
)

// LimiterConfig configures token-bucket admission for outbound calls.
type LimiterConfig struct {
	// RatePerSecond is the refill rate. Zero or negative disables limiting.
	RatePerSecond float64
	// Burst is the bucket size. Defaults to ceil(RatePerSecond), at least 1.
	Burst int
	// Mode is the behavior when no token is available (reject or block).
	Mode LimitMode
	// WaitTimeout bounds blocking waits. Defaults to one second.
	WaitTimeout time.Duration
}

// Limiter wraps a token bucket with reject or bounded-wait semantics.
type Limiter struct {
	lim  *rate.Limiter
	mode LimitMode
	wait time.Duration
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg LimiterConfig) *Limiter {
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = int(math.Max(1, math.Ceil(cfg.RatePerSecond)))
		}
	}
	mode := cfg.Mode
	if mode == LimitDefault {
		mode = LimitReject
	}
	wait := cfg.WaitTimeout
	if wait <= 0 {
		wait = time.Second
	}
	return &Limiter{lim: rate.NewLimiter(limit, burst), mode: mode, wait: wait}
}

// Acquire takes one token. override selects the mode for this call; the
// configured mode applies when it is LimitDefault. Waiting never exceeds the
// configured timeout or ctx's deadline.
func (l *Limiter) Acquire(ctx context.Context, override LimitMode) error {
	mode := override
	if mode == LimitDefault {
		mode = l.mode
	}

	if mode == LimitReject {
		if !l.lim.Allow() {
			return core.ErrRateLimited
		}
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	if err := l.lim.Wait(wctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
	}
	return nil
}
