package scan

import (
	"context"
	"sync"
	"time"

	"github.com/runnerr0/histscan/internal/config"
)

// Clock abstracts time so throttling can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limits are the two throttle constraints: at most Quota requests per
// Window, and at least MinDelay between consecutive requests.
type Limits struct {
	Quota    int
	Window   time.Duration
	Margin   time.Duration // added to the wait for a new window
	MinDelay time.Duration
}

// DefaultLimits is the public VirusTotal API allowance.
func DefaultLimits() Limits {
	return Limits{Quota: 4, Window: time.Minute, Margin: time.Second, MinDelay: 16 * time.Second}
}

// LimitsFromConfig reads the scan config section.
func LimitsFromConfig(c config.ScanConfig) Limits {
	return Limits{Quota: c.QuotaPerMinute, Window: c.Window, Margin: c.WindowMargin, MinDelay: c.MinDelay}
}

// RateLimiter spaces out requests. One limiter is shared by every scan in a
// process so consecutive runs respect the same quota.
type RateLimiter struct {
	mu          sync.Mutex
	clock       Clock
	limits      Limits
	count       int
	windowStart time.Time
	lastRequest time.Time
}

// NewRateLimiter returns a limiter using clock, or the system clock if nil.
func NewRateLimiter(limits Limits, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock{}
	}
	if limits.Quota < 1 {
		limits.Quota = 1
	}
	return &RateLimiter{clock: clock, limits: limits}
}

// Wait blocks until a request may be issued and then counts it.
func (l *RateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.limits.Window {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.limits.Quota {
		wait := l.limits.Window - now.Sub(l.windowStart) + l.limits.Margin
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		l.count = 0
		l.windowStart = l.clock.Now()
	}

	if !l.lastRequest.IsZero() {
		since := l.clock.Now().Sub(l.lastRequest)
		if since < l.limits.MinDelay {
			if err := l.clock.Sleep(ctx, l.limits.MinDelay-since); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	l.lastRequest = l.clock.Now()
	l.count++
	return nil
}

// Used returns the requests counted in the current window.
func (l *RateLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
