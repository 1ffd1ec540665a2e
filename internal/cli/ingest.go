package cli

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/ingest"
	"github.com/runnerr0/histscan/internal/storage"
)

type ingestJSON struct {
	Source   string `json:"source"`
	Browser  string `json:"browser"`
	Received int    `json:"received"`
	Written  int64  `json:"written"`
	Storage  string `json:"storage"`
}

func printIngestResult(g *GlobalFlags, a *app.App, source, browser string, entries []storage.HistoryEntry, written int64) error {
	if jsonOutput(g) {
		return printJSON(ingestJSON{
			Source:   source,
			Browser:  browser,
			Received: len(entries),
			Written:  written,
			Storage:  a.StorageMode(),
		})
	}

	fmt.Printf("Imported %d history entries from %s (%d new)\n", len(entries), source, written)
	if !a.Store.Available() {
		fmt.Println("Storage is unavailable: entries were not saved.")
	}
	return nil
}

// Execute implements the go-flags Commander interface for ImportCommand.
func (c *ImportCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp runs the import against a provided app (for testing).
func (c *ImportCommand) executeWithApp(a *app.App) error {
	browser := c.Browser
	if browser == "" {
		browser = a.Config.Import.DefaultBrowser
	}

	entries, err := ingest.ParseFile(c.Args.File, ingest.FileOptions{
		Browser:     browser,
		SQLiteLimit: a.Config.Import.SQLiteLimit,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", c.Args.File, err)
	}

	written := a.IngestHistory(context.Background(), entries)
	return printIngestResult(c.globals, a, c.Args.File, browser, entries, written)
}

// Execute implements the go-flags Commander interface for PullCommand.
func (c *PullCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp reads the local browser profile into the app's store.
func (c *PullCommand) executeWithApp(a *app.App) error {
	browser := c.Browser
	if browser == "" {
		browser = a.Config.Import.DefaultBrowser
	}
	limit := c.Limit
	if limit <= 0 {
		limit = a.Config.Import.SQLiteLimit
	}

	entries, err := ingest.LocalHistory(browser, limit)
	if err != nil {
		return fmt.Errorf("read %s history: %w", browser, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("read %s history: %w", browser, ingest.ErrNoEntries)
	}

	written := a.IngestHistory(context.Background(), entries)
	return printIngestResult(c.globals, a, browser, browser, entries, written)
}

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}
	return withApp(c.globals, c.executeWithApp)
}

// executeWithApp records the entry against a provided app (used by tests).
func (c *AddCommand) executeWithApp(a *app.App) error {
	parsed, err := url.ParseRequestURI(c.URL)
	if err != nil || parsed.Host == "" || !ingest.IsWebURL(c.URL) {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}

	title := c.Title
	if title == "" {
		title = ingest.DefaultTitle
	}
	visits := c.Visits
	if visits < 1 {
		visits = 1
	}
	browser := c.BrowserName
	if browser == "" {
		browser = a.Config.Import.DefaultBrowser
	}

	entry := storage.HistoryEntry{
		URL:           c.URL,
		Title:         title,
		VisitCount:    visits,
		LastVisitTime: time.Now().UnixMilli(),
		Browser:       browser,
	}
	written := a.IngestHistory(context.Background(), []storage.HistoryEntry{entry})

	if jsonOutput(c.globals) {
		return printJSON(map[string]interface{}{
			"url":             entry.URL,
			"title":           entry.Title,
			"visit_count":     entry.VisitCount,
			"last_visit_time": entry.LastVisitTime,
			"domain":          storage.DeriveDomain(entry.URL),
			"stored":          written > 0,
		})
	}

	fmt.Printf("Added %s\n", entry.URL)
	fmt.Printf("  Title:  %s\n", entry.Title)
	fmt.Printf("  Domain: %s\n", storage.DeriveDomain(entry.URL))
	if written == 0 {
		fmt.Println("  Stored: no (storage unavailable)")
	}
	return nil
}
