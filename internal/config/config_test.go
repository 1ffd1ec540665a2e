package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4, cfg.Scan.QuotaPerMinute)
	assert.Equal(t, 16*time.Second, cfg.Scan.MinDelay)
	assert.Equal(t, 60*time.Second, cfg.Scan.Window)
	assert.Equal(t, time.Second, cfg.Scan.WindowMargin)
	assert.Equal(t, 30*time.Second, cfg.Scan.QuotaCooldown)
	assert.Equal(t, 4, cfg.Scan.MaxURLs)
	assert.Equal(t, 500, cfg.Scan.MaxURLLength)
	assert.Equal(t, DefaultExcludeMarkers(), cfg.Scan.ExcludeMarkers)
	assert.Equal(t, "https://www.virustotal.com/vtapi/v2/url/report", cfg.VirusTotal.APIURL)
	assert.Equal(t, 10*time.Second, cfg.VirusTotal.Timeout)
	assert.Equal(t, "BrowserHistoryAnalyzer/1.0", cfg.VirusTotal.UserAgent)
	assert.Equal(t, "~/.config/histscan", cfg.Storage.Path)
	assert.Equal(t, "history_analyzer.db", cfg.Storage.SQLiteFile)
	assert.Equal(t, 5000, cfg.Storage.BusyTimeoutMS)
	assert.Equal(t, "127.0.0.1", cfg.Daemon.Host)
	assert.Equal(t, 8765, cfg.Daemon.Port)
	assert.Equal(t, 10485760, cfg.Daemon.MaxRequestSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Logging.File)
	assert.Equal(t, "Google Chrome", cfg.Import.DefaultBrowser)
	assert.Equal(t, 100, cfg.Import.SQLiteLimit)
}

func TestDefaultExcludeMarkers(t *testing.T) {
	markers := DefaultExcludeMarkers()
	assert.Contains(t, markers, "virustotal.com")
	assert.Contains(t, markers, "chrome://")
	assert.Contains(t, markers, "about:")
	assert.Contains(t, markers, "localhost")
	assert.Contains(t, markers, "127.0.0.1")
}

func TestLoadValidYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
scan:
  quota_per_minute: 500
  min_delay: 0s
  max_urls: 50
daemon:
  port: 9999
logging:
  level: "debug"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 500, cfg.Scan.QuotaPerMinute)
	assert.Equal(t, time.Duration(0), cfg.Scan.MinDelay)
	assert.Equal(t, 50, cfg.Scan.MaxURLs)
	assert.Equal(t, 9999, cfg.Daemon.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Non-overridden values remain defaults
	assert.Equal(t, 60*time.Second, cfg.Scan.Window)
	assert.Equal(t, "127.0.0.1", cfg.Daemon.Host)
	assert.Equal(t, "~/.config/histscan", cfg.Storage.Path)
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte(":::not valid yaml{{{"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("scan:\n  max_urls: 0\n"), 0644)
	require.NoError(t, err)

	_, err = Load(cfgPath)
	assert.ErrorContains(t, err, "max_urls")
}

func TestLoadNonExistentFileReturnsError(t *testing.T) {
	_, err := Load("/tmp/nonexistent_path_12345/config.yaml")
	assert.Error(t, err)
}

func TestLoadOrCreateCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sub", "deep", "config.yaml")

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scan.QuotaPerMinute)
	assert.Equal(t, "127.0.0.1", cfg.Daemon.Host)

	_, statErr := os.Stat(cfgPath)
	assert.NoError(t, statErr)

	// The written file round-trips, durations included.
	cfg2, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}

func TestLoadOrCreateLoadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(cfgPath, []byte("import:\n  sqlite_limit: 250\n"), 0644)
	require.NoError(t, err)

	cfg, err := LoadOrCreateAt(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Import.SQLiteLimit)
	assert.Equal(t, "Google Chrome", cfg.Import.DefaultBrowser)
}

func TestLoadWithExcludeMarkers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
scan:
  exclude_markers:
    - "intranet.local"
    - "file://"
`
	err := os.WriteFile(cfgPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"intranet.local", "file://"}, cfg.Scan.ExcludeMarkers)
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/histscan"

	p, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/histscan/history_analyzer.db", p)
}

func TestLogFilePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = "/var/lib/histscan"

	p, err := cfg.LogFilePath()
	require.NoError(t, err)
	assert.Empty(t, p)

	cfg.Logging.File = "histscan.log"
	p, err = cfg.LogFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/histscan/histscan.log", p)

	cfg.Logging.File = "/tmp/other.log"
	p, err = cfg.LogFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.log", p)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/histscan.yaml")

	p, err := ResolvePath("/explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/explicit.yaml", p)

	p, err = ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/histscan.yaml", p)
}

func TestEnvAPIKeyValue(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	assert.Equal(t, "from-env", EnvAPIKeyValue())
}
