package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/histscan/internal/app"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string       `json:"version"`
	ConfigPath        string       `json:"config_path,omitempty"`
	Storage           string       `json:"storage"`
	DatabasePath      string       `json:"database_path,omitempty"`
	DatabaseSizeBytes int64        `json:"database_size_bytes"`
	HistoryCount      int64        `json:"history_count"`
	MaliciousCount    int64        `json:"malicious_count"`
	SessionCount      int64        `json:"session_count"`
	APIKeyConfigured  bool         `json:"api_key_configured"`
	DaemonRunning     bool         `json:"daemon_running"`
	DaemonURL         string       `json:"daemon_url"`
	LastSession       *sessionJSON `json:"last_session,omitempty"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp runs status against a provided app (for testing).
func (c *StatusCommand) executeWithApp(a *app.App) error {
	ctx := context.Background()

	stats := a.Stats(ctx)
	url := daemonURL(a)
	out := statusJSON{
		Version:           c.version,
		ConfigPath:        a.ConfigPath,
		Storage:           a.StorageMode(),
		DatabasePath:      a.DBPath,
		DatabaseSizeBytes: getDatabaseSize(a),
		HistoryCount:      stats.HistoryCount,
		MaliciousCount:    stats.MaliciousCount,
		SessionCount:      stats.SessionCount,
		APIKeyConfigured:  a.APIKey(ctx) != "",
		DaemonRunning:     checkDaemon(url),
		DaemonURL:         url,
	}
	if sessions := a.Store.ListSessions(ctx); len(sessions) > 0 {
		s := toSessionJSON(sessions[0])
		out.LastSession = &s
	}

	if jsonOutput(c.globals) {
		return printJSON(out)
	}
	return c.printStatusHuman(out)
}

func (c *StatusCommand) printStatusHuman(s statusJSON) error {
	fmt.Println("histscan Status")
	fmt.Println("===============")
	fmt.Printf("Version:       %s\n", c.version)
	if s.ConfigPath != "" {
		fmt.Printf("Config:        %s\n", s.ConfigPath)
	}
	if s.Storage == "sqlite" {
		fmt.Printf("Database:      %s (%s)\n", s.DatabasePath, formatBytes(s.DatabaseSizeBytes))
	} else {
		fmt.Println("Database:      unavailable, running memory-only")
	}
	fmt.Printf("History:       %s entries\n", formatNumber(s.HistoryCount))
	fmt.Printf("Malicious:     %s URLs\n", formatNumber(s.MaliciousCount))
	fmt.Printf("Sessions:      %s\n", formatNumber(s.SessionCount))

	if s.LastSession != nil {
		ls := s.LastSession
		fmt.Printf("Last scan:     %s, %d URLs, %d malicious (%s)\n",
			ls.SessionDate.Local().Format("2006-01-02 15:04"), ls.TotalURLs, ls.MaliciousCount, ls.Status)
	}

	fmt.Println()
	if s.APIKeyConfigured {
		fmt.Println("API key:       configured")
	} else {
		fmt.Println("API key:       not set (run `histscan apikey --set KEY`)")
	}
	if s.DaemonRunning {
		fmt.Printf("Daemon:        running (%s)\n", s.DaemonURL)
	} else {
		fmt.Println("Daemon:        not running")
	}
	return nil
}

// sessionJSON is the CLI JSON form of a scan session.
type sessionJSON struct {
	ID               int64     `json:"id"`
	SessionDate      time.Time `json:"session_date"`
	TotalURLs        int       `json:"total_urls"`
	MaliciousCount   int       `json:"malicious_count"`
	ScanDuration     int64     `json:"scan_duration_seconds"`
	MaliciousDomains []string  `json:"malicious_domains"`
	Status           string    `json:"status"`
}
