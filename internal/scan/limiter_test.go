package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_QuotaAndMinDelay(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := NewRateLimiter(Limits{Quota: 4, Window: time.Minute, MinDelay: 16 * time.Second}, clock)

	var issued []time.Duration
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Wait(context.Background()))
		issued = append(issued, clock.Now().Sub(start))
	}

	assert.Equal(t, []time.Duration{
		0,
		16 * time.Second,
		32 * time.Second,
		48 * time.Second,
		64 * time.Second,
		80 * time.Second,
	}, issued)

	// The fifth request waits for the first window to end and for the
	// minimum gap after the fourth.
	assert.GreaterOrEqual(t, issued[4], time.Minute)
	assert.GreaterOrEqual(t, issued[4]-issued[3], 16*time.Second)
	assert.GreaterOrEqual(t, issued[5], time.Minute)
	assert.Equal(t, 2, l.Used())
}

func TestRateLimiter_WindowMargin(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := NewRateLimiter(Limits{Quota: 2, Window: time.Minute, Margin: time.Second}, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Equal(t, 61*time.Second, clock.Now().Sub(start))
}

func TestRateLimiter_WindowResetsAfterIdle(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(Limits{Quota: 1, Window: time.Minute}, clock)

	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, clock.Sleep(context.Background(), 2*time.Minute))

	before := len(clock.slept)
	require.NoError(t, l.Wait(context.Background()))
	assert.Len(t, clock.slept, before, "no wait once the window has passed")
}

func TestRateLimiter_Cancelled(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(Limits{Quota: 1, Window: time.Minute}, clock)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Used(), "a cancelled wait is not counted")
}

func TestSystemClock_SleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SystemClock{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
