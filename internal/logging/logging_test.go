package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info", Prefix: "histscan", Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("scan finished", "malicious", 2)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "histscan")
	assert.Contains(t, out, "scan finished")
	assert.Contains(t, out, "malicious=2")
	assert.NotContains(t, out, "hidden")
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Verbose: true, Out: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("details")
	assert.Contains(t, buf.String(), "details")
}

func TestNew_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "histscan.log")

	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path, Out: &buf})
	require.NoError(t, err)

	logger.Warn("storage unavailable")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storage unavailable")
	assert.Contains(t, buf.String(), "storage unavailable")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, lvl)

	lvl, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
