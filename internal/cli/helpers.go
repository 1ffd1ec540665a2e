package cli

import (
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"github.com/runnerr0/histscan/internal/app"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// openApp loads config and opens the store for a single command run.
func openApp(g *GlobalFlags) (*app.App, error) {
	var opts app.Options
	if g != nil {
		opts.ConfigPath = g.Config
		opts.Verbose = g.Verbose
	}
	a, err := app.New(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize histscan: %w", err)
	}
	return a, nil
}

// withApp opens the app, runs fn and closes the app again.
func withApp(g *GlobalFlags, fn func(*app.App) error) error {
	a, err := openApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func jsonOutput(g *GlobalFlags) bool {
	return g != nil && g.JSON
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a stdout table with the given header.
func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(60)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatMillis renders an epoch-millisecond timestamp in local time.
func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// formatSeconds renders a duration in whole seconds like "1m 04s".
func formatSeconds(sec int64) string {
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	return fmt.Sprintf("%dm %02ds", sec/60, sec%60)
}

// maskKey hides all but the last four characters of an API key.
func maskKey(k string) string {
	if len(k) <= 4 {
		return strings.Repeat("*", len(k))
	}
	return strings.Repeat("*", 8) + k[len(k)-4:]
}

// getDatabaseSize returns the database file size in bytes.
// For on-disk databases, it uses os.Stat. For in-memory databases,
// it queries page_count * page_size.
func getDatabaseSize(a *app.App) int64 {
	if a.DBPath != "" {
		if info, err := os.Stat(a.DBPath); err == nil {
			return info.Size()
		}
	}

	dber, ok := a.Store.(interface{ DB() *sql.DB })
	if !ok || dber.DB() == nil {
		return 0
	}
	db := dber.DB()
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}

// daemonURL is the status endpoint of the configured daemon.
func daemonURL(a *app.App) string {
	d := a.Config.Daemon
	return "http://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port)) + "/api/status"
}

// checkDaemon attempts an HTTP GET to the daemon status endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(url string) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}
