package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/config"
	"github.com/runnerr0/histscan/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()

	w.Close()
	os.Stdout = old
	return <-done
}

// openTestStore creates a migrated in-memory store.
func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.NewMigrationRunner(db).Run())

	store, err := storage.NewSQLiteStore(db, nil)
	require.NoError(t, err)
	return store
}

// newTestApp builds an app over store with the scan throttle disabled and
// the daemon pointed at a port nothing listens on. A non-nil vt handler
// serves VirusTotal lookups.
func newTestApp(t *testing.T, store storage.Store, vt http.HandlerFunc) *app.App {
	t.Helper()
	t.Setenv(config.EnvAPIKey, "")

	cfg := config.DefaultConfig()
	cfg.Scan.QuotaPerMinute = 100
	cfg.Scan.MinDelay = 0
	cfg.Daemon.Port = 1
	if vt != nil {
		srv := httptest.NewServer(vt)
		t.Cleanup(srv.Close)
		cfg.VirusTotal.APIURL = srv.URL
	}

	a := app.NewWithStore(cfg, store, nil, nil)
	t.Cleanup(func() { a.Runner.Shutdown(context.Background()) })
	return a
}

func seedHistory(t *testing.T, store storage.Store, entries ...storage.HistoryEntry) {
	t.Helper()
	require.Equal(t, int64(len(entries)), store.AppendHistory(context.Background(), entries))
}

func seedMalicious(t *testing.T, store storage.Store, sessionID int64, urls ...string) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, u := range urls {
		require.True(t, store.RecordMalicious(context.Background(), &storage.MaliciousRecord{
			URL:           u,
			Positives:     3,
			Total:         70,
			SessionID:     sessionID,
			DetectionTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}
