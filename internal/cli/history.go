package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/storage"
)

// Execute implements the go-flags Commander interface for HistoryCommand.
func (c *HistoryCommand) Execute(args []string) error {
	return withApp(c.globals, func(a *app.App) error {
		return c.executeWithApp(a, args)
	})
}

// executeWithApp filters stored history (for testing).
func (c *HistoryCommand) executeWithApp(a *app.App, args []string) error {
	query := strings.ToLower(strings.Join(args, " "))

	var since int64
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		since = time.Now().Add(-dur).UnixMilli()
	}

	var matched []storage.HistoryEntry
	for _, e := range a.History(context.Background()) {
		if since > 0 && e.LastVisitTime < since {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(e.URL), query) &&
			!strings.Contains(strings.ToLower(e.Title), query) {
			continue
		}
		if len(c.Domain) > 0 && !matchesAny(storage.DeriveDomain(e.URL), c.Domain) {
			continue
		}
		if len(c.Browser) > 0 && !matchesAny(e.Browser, c.Browser) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	if c.Offset > 0 {
		if c.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[c.Offset:]
		}
	}
	if c.Limit > 0 && len(matched) > c.Limit {
		matched = matched[:c.Limit]
	}

	if jsonOutput(c.globals) {
		return c.printJSON(query, total, matched)
	}
	return c.printHuman(query, total, matched)
}

func matchesAny(v string, wanted []string) bool {
	for _, w := range wanted {
		if strings.EqualFold(v, strings.TrimPrefix(strings.ToLower(w), "www.")) {
			return true
		}
	}
	return false
}

func (c *HistoryCommand) printHuman(query string, total int, entries []storage.HistoryEntry) error {
	if total == 0 {
		if query != "" {
			fmt.Printf("No history entries match %q\n", query)
		} else {
			fmt.Println("No history entries stored. Import some with `histscan import` or `histscan pull`.")
		}
		return nil
	}

	fmt.Printf("Showing %d of %d entries\n\n", len(entries), total)
	table := newTable("#", "Title", "URL", "Visits", "Last Visit", "Browser")
	for i, e := range entries {
		table.Append([]string{
			strconv.Itoa(i + 1 + c.Offset),
			truncate(e.Title, 40),
			truncate(e.URL, 60),
			strconv.Itoa(e.VisitCount),
			formatMillis(e.LastVisitTime),
			e.Browser,
		})
	}
	table.Render()
	return nil
}

type historyEntryJSON struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Domain        string `json:"domain"`
	VisitCount    int    `json:"visit_count"`
	LastVisitTime int64  `json:"last_visit_time"`
	Browser       string `json:"browser,omitempty"`
}

type historyJSON struct {
	Count   int                `json:"count"`
	Total   int                `json:"total"`
	Query   string             `json:"query"`
	Entries []historyEntryJSON `json:"entries"`
}

func (c *HistoryCommand) printJSON(query string, total int, entries []storage.HistoryEntry) error {
	out := historyJSON{
		Count:   len(entries),
		Total:   total,
		Query:   query,
		Entries: make([]historyEntryJSON, len(entries)),
	}
	for i, e := range entries {
		out.Entries[i] = historyEntryJSON{
			URL:           e.URL,
			Title:         e.Title,
			Domain:        storage.DeriveDomain(e.URL),
			VisitCount:    e.VisitCount,
			LastVisitTime: e.LastVisitTime,
			Browser:       e.Browser,
		}
	}
	return printJSON(out)
}
