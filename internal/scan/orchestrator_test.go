package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/histscan/internal/storage"
	"github.com/runnerr0/histscan/internal/virustotal"
)

func TestOrchestrator_MixedVerdicts(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	lookup := &fakeLookup{clock: clock, results: map[string]lookupResult{
		"http://bad.example.com/page":  flagged(3, 70),
		"http://bad.example.com/other": flagged(1, 70),
		"https://fine.example.org/":    clean(68),
		"https://down.example.net/":    transportErr(),
	}}

	var progress []Progress
	orch := NewOrchestrator(store, lookup, NewRateLimiter(DefaultLimits(), clock), Options{
		Clock:     clock,
		Logger:    testLogger(),
		OnVerdict: func(p Progress, _ Line) { progress = append(progress, p) },
	})

	report, err := orch.Run(context.Background(), entries(
		"http://bad.example.com/page",
		"https://fine.example.org/",
		"https://down.example.net/",
		"http://bad.example.com/other",
	))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Malicious)
	assert.Equal(t, 1, report.Clean)
	assert.Equal(t, 1, report.Errors)
	assert.False(t, report.Cancelled)
	assert.Equal(t, []string{"bad.example.com"}, report.Domains)
	require.Len(t, report.Lines, 4)
	assert.Equal(t, "https://down.example.net/", report.Lines[2].URL)
	assert.IsType(t, Failure{}, report.Lines[2].Verdict)

	// Lookups went out in input order.
	assert.Equal(t, []string{
		"http://bad.example.com/page",
		"https://fine.example.org/",
		"https://down.example.net/",
		"http://bad.example.com/other",
	}, lookup.urls)

	// Progress advanced one step per URL.
	require.Len(t, progress, 4)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 4, p.Total)
	}

	ctx := context.Background()
	sessions := store.ListSessions(ctx)
	require.Len(t, sessions, 1)
	sess := sessions[0]
	assert.Equal(t, report.SessionID, sess.ID)
	assert.Equal(t, 4, sess.TotalURLs)
	assert.Equal(t, 2, sess.MaliciousCount)
	assert.Equal(t, storage.SessionCompleted, sess.Status)
	assert.Equal(t, []string{"bad.example.com"}, sess.MaliciousDomains)
	assert.Equal(t, int64(48), sess.ScanDurationSeconds)

	malicious := store.MaliciousForSession(ctx, sess.ID)
	require.Len(t, malicious, 2)
	for _, m := range malicious {
		assert.Equal(t, "bad.example.com", m.Domain)
	}

	results := store.ScanResults(ctx, sess.ID)
	require.Len(t, results, 4)
	assert.Equal(t, KindMalicious, results[0].Verdict)
	assert.Equal(t, 3, results[0].Positives)
	assert.Equal(t, KindClean, results[1].Verdict)
	assert.Equal(t, KindError, results[2].Verdict)
	assert.Contains(t, results[2].Detail, "network error")
}

func TestOrchestrator_RespectsLimiter(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	start := clock.Now()
	lookup := &fakeLookup{clock: clock}

	orch := NewOrchestrator(store, lookup,
		NewRateLimiter(Limits{Quota: 4, Window: time.Minute, MinDelay: 16 * time.Second}, clock),
		Options{Clock: clock})

	_, err := orch.Run(context.Background(), entries(
		"https://1.com", "https://2.com", "https://3.com",
		"https://4.com", "https://5.com", "https://6.com",
	))
	require.NoError(t, err)

	require.Len(t, lookup.calls, 6)
	assert.GreaterOrEqual(t, lookup.calls[4].Sub(start), time.Minute)
	assert.GreaterOrEqual(t, lookup.calls[4].Sub(lookup.calls[3]), 16*time.Second)
	assert.GreaterOrEqual(t, clock.Now().Sub(start), time.Minute)
}

func TestOrchestrator_QuotaCooldown(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	lookup := &fakeLookup{clock: clock, results: map[string]lookupResult{
		"https://1.com": {err: &virustotal.StatusError{Code: 204}},
	}}

	orch := NewOrchestrator(store, lookup,
		NewRateLimiter(Limits{Quota: 100, Window: time.Minute}, clock),
		Options{Clock: clock, Cooldown: DefaultCooldown})

	report, err := orch.Run(context.Background(), entries("https://1.com", "https://2.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Clean)
	require.Len(t, lookup.calls, 2)
	assert.Equal(t, DefaultCooldown, lookup.calls[1].Sub(lookup.calls[0]))
}

func TestOrchestrator_DuplicateURLCountsOnce(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	lookup := &fakeLookup{clock: clock, results: map[string]lookupResult{
		"https://evil.com/x": flagged(5, 70),
	}}

	orch := NewOrchestrator(store, lookup, NewRateLimiter(Limits{Quota: 10, Window: time.Minute}, clock), Options{Clock: clock})
	report, err := orch.Run(context.Background(), entries("https://evil.com/x", "https://evil.com/x"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Malicious)
	assert.Len(t, store.ListMalicious(context.Background()), 1)
}

func TestOrchestrator_Cancelled(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	lookup := &fakeLookup{clock: clock, onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	orch := NewOrchestrator(store, lookup, NewRateLimiter(Limits{Quota: 10, Window: time.Minute}, clock), Options{Clock: clock})
	report, err := orch.Run(ctx, entries("https://1.com", "https://2.com", "https://3.com"))
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Len(t, report.Lines, 1)
	assert.Len(t, lookup.calls, 2)

	sess, err := store.GetSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCancelled, sess.Status)
	assert.Equal(t, 3, sess.TotalURLs)
}

func TestOrchestrator_StorageUnavailable(t *testing.T) {
	clock := newFakeClock()
	lookup := &fakeLookup{clock: clock, results: map[string]lookupResult{
		"https://evil.com/": flagged(2, 60),
	}}

	orch := NewOrchestrator(storage.Unavailable(testLogger()), lookup,
		NewRateLimiter(Limits{Quota: 10, Window: time.Minute}, clock), Options{Clock: clock})
	report, err := orch.Run(context.Background(), entries("https://evil.com/", "https://ok.com/"))
	require.NoError(t, err)

	assert.Equal(t, int64(-1), report.SessionID)
	assert.Equal(t, 1, report.Malicious)
	assert.Equal(t, []string{"evil.com"}, report.Domains)
}

func TestOrchestrator_NothingToScan(t *testing.T) {
	orch := NewOrchestrator(openTestStore(t), &fakeLookup{clock: newFakeClock()}, nil, Options{})
	_, err := orch.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingToScan)
}

func TestOrchestrator_TransportErrorKeepsKeyOutOfResults(t *testing.T) {
	store := openTestStore(t)
	clock := newFakeClock()
	// Nothing listens on port 1.
	client := virustotal.NewClient("SECRET-KEY-123", virustotal.Options{
		APIURL:  "http://127.0.0.1:1/vtapi/v2/url/report",
		Timeout: time.Second,
	})
	orch := NewOrchestrator(store, client, NewRateLimiter(DefaultLimits(), clock), Options{
		Clock:  clock,
		Logger: testLogger(),
	})

	report, err := orch.Run(context.Background(), entries("https://a.example/"))
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, KindError, report.Lines[0].Verdict.Kind())
	assert.NotContains(t, report.Lines[0].Verdict.String(), "SECRET-KEY-123")

	results := store.ScanResults(context.Background(), report.SessionID)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Detail, "network error")
	assert.NotContains(t, results[0].Detail, "SECRET-KEY-123")
	assert.NotContains(t, results[0].Detail, "apikey")
}
