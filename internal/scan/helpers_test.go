package scan

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/histscan/internal/storage"
	"github.com/runnerr0/histscan/internal/virustotal"
)

// fakeClock advances only when something sleeps on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept = append(c.slept, d)
	}
	return nil
}

type lookupResult struct {
	report *virustotal.URLReport
	err    error
}

// fakeLookup answers from a table and records when each call happened.
type fakeLookup struct {
	clock   Clock
	results map[string]lookupResult
	calls   []time.Time
	urls    []string
	onCall  func(n int)
}

func (f *fakeLookup) URLReport(ctx context.Context, resource string) (*virustotal.URLReport, error) {
	f.calls = append(f.calls, f.clock.Now())
	f.urls = append(f.urls, resource)
	if f.onCall != nil {
		f.onCall(len(f.calls))
	}
	if r, ok := f.results[resource]; ok {
		return r.report, r.err
	}
	r := clean(70)
	return r.report, r.err
}

func clean(total int) lookupResult {
	return lookupResult{report: &virustotal.URLReport{ResponseCode: 1, Total: total, HasCounts: true}}
}

func flagged(pos, total int) lookupResult {
	return lookupResult{report: &virustotal.URLReport{ResponseCode: 1, Positives: pos, Total: total, HasCounts: true}}
}

func transportErr() lookupResult {
	return lookupResult{err: errors.New("dial tcp: connection refused")}
}

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewSQLiteStore(db, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func entries(urls ...string) []storage.HistoryEntry {
	out := make([]storage.HistoryEntry, 0, len(urls))
	for i, u := range urls {
		out = append(out, storage.HistoryEntry{URL: u, Title: "t", VisitCount: 1, LastVisitTime: int64(1000 + i)})
	}
	return out
}
