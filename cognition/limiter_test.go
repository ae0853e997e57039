package cognition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/layermesh/core"
)

func TestLimiterUnlimitedByDefault(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	for i := 0; i < 1000; i++ {
		assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	}
}

func TestLimiterRejectMode(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 0.001, Burst: 2})
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	assert.ErrorIs(t, l.Acquire(context.Background(), LimitDefault), core.ErrRateLimited)
}

func TestLimiterBlockModeWaitsForToken(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 50, Burst: 1, Mode: LimitBlock, WaitTimeout: time.Second})
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	start := time.Now()
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestLimiterBlockModeTimesOut(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 0.001, Burst: 1, Mode: LimitBlock, WaitTimeout: 20 * time.Millisecond})
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	assert.ErrorIs(t, l.Acquire(context.Background(), LimitDefault), core.ErrRateLimited)
}

func TestLimiterPerRequestOverride(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 50, Burst: 1, Mode: LimitBlock})
	assert.NoError(t, l.Acquire(context.Background(), LimitDefault))
	assert.ErrorIs(t, l.Acquire(context.Background(), LimitReject), core.ErrRateLimited)
}
