package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/histscan/internal/storage"
)

func TestStatus_EmptyDB(t *testing.T) {
	a := newTestApp(t, openTestStore(t), nil)
	a.DBPath = ":memory:"

	cmd := &StatusCommand{
		globals: &GlobalFlags{},
		version: "dev",
	}

	output := captureOutput(t, func() {
		err := cmd.executeWithApp(a)
		require.NoError(t, err)
	})

	assert.Contains(t, output, "histscan Status")
	assert.Contains(t, output, "Version:       dev")
	assert.Contains(t, output, "History:       0 entries")
	assert.Contains(t, output, "Malicious:     0 URLs")
	assert.Contains(t, output, "API key:       not set")
	assert.Contains(t, output, "Daemon:        not running")
	assert.NotContains(t, output, "Last scan:")
}

func TestStatus_WithData(t *testing.T) {
	store := openTestStore(t)
	seedHistory(t, store,
		storage.HistoryEntry{URL: "https://a.example", LastVisitTime: 1},
		storage.HistoryEntry{URL: "https://b.example", LastVisitTime: 2},
	)
	id := store.OpenSession(context.Background(), 4, 1, 48, []string{"bad.example.com"})
	seedMalicious(t, store, id, "http://bad.example.com/page")
	require.True(t, store.SaveAPIKey(context.Background(), "key"))

	a := newTestApp(t, store, nil)
	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithApp(a))
	})

	assert.Contains(t, output, "History:       2 entries")
	assert.Contains(t, output, "Malicious:     1 URLs")
	assert.Contains(t, output, "Sessions:      1")
	assert.Contains(t, output, "4 URLs, 1 malicious (completed)")
	assert.Contains(t, output, "API key:       configured")
}

func TestStatus_JSON(t *testing.T) {
	store := openTestStore(t)
	seedHistory(t, store, storage.HistoryEntry{URL: "https://a.example", LastVisitTime: 1})

	a := newTestApp(t, store, nil)
	cmd := &StatusCommand{globals: &GlobalFlags{JSON: true}, version: "1.0.0"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithApp(a))
	})

	var out statusJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, "1.0.0", out.Version)
	assert.Equal(t, "sqlite", out.Storage)
	assert.Equal(t, int64(1), out.HistoryCount)
	assert.Equal(t, int64(0), out.MaliciousCount)
	assert.False(t, out.APIKeyConfigured)
	assert.False(t, out.DaemonRunning)
	assert.Equal(t, "http://127.0.0.1:1/api/status", out.DaemonURL)
	assert.Greater(t, out.DatabaseSizeBytes, int64(0), "in-memory size from page count")
	assert.Nil(t, out.LastSession)
}

func TestStatus_MemoryMode(t *testing.T) {
	a := newTestApp(t, storage.Unavailable(nil), nil)
	cmd := &StatusCommand{globals: &GlobalFlags{}, version: "dev"}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithApp(a))
	})

	assert.Contains(t, output, "unavailable, running memory-only")
}
