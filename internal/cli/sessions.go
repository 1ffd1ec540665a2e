package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/storage"
)

func toSessionJSON(s storage.Session) sessionJSON {
	domains := s.MaliciousDomains
	if domains == nil {
		domains = []string{}
	}
	return sessionJSON{
		ID:               s.ID,
		SessionDate:      s.SessionDate,
		TotalURLs:        s.TotalURLs,
		MaliciousCount:   s.MaliciousCount,
		ScanDuration:     s.ScanDurationSeconds,
		MaliciousDomains: domains,
		Status:           s.Status,
	}
}

type scanResultJSON struct {
	URL       string    `json:"url"`
	Verdict   string    `json:"verdict"`
	Positives int       `json:"positives"`
	Total     int       `json:"total"`
	Detail    string    `json:"detail,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

type sessionDetailJSON struct {
	sessionJSON
	Results   []scanResultJSON `json:"results"`
	Malicious []maliciousJSON  `json:"malicious_urls"`
}

// Execute implements the go-flags Commander interface for SessionsCommand.
func (c *SessionsCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

func (c *SessionsCommand) executeWithApp(a *app.App) error {
	if c.ID != 0 {
		return c.showSession(a, c.ID)
	}

	sessions := a.Store.ListSessions(context.Background())
	if jsonOutput(c.globals) {
		out := make([]sessionJSON, len(sessions))
		for i, s := range sessions {
			out[i] = toSessionJSON(s)
		}
		return printJSON(map[string]interface{}{"count": len(out), "sessions": out})
	}

	if len(sessions) == 0 {
		fmt.Println("No scan sessions recorded.")
		return nil
	}
	table := newTable("ID", "Date", "URLs", "Malicious", "Duration", "Status", "Domains")
	for _, s := range sessions {
		table.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.SessionDate.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(s.TotalURLs),
			strconv.Itoa(s.MaliciousCount),
			formatSeconds(s.ScanDurationSeconds),
			s.Status,
			truncate(strings.Join(s.MaliciousDomains, ", "), 40),
		})
	}
	table.Render()
	return nil
}

func (c *SessionsCommand) showSession(a *app.App, id int64) error {
	ctx := context.Background()
	s, err := a.Store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("session %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("load session %d: %w", id, err)
	}
	results := a.Store.ScanResults(ctx, id)
	malicious := a.Store.MaliciousForSession(ctx, id)

	if jsonOutput(c.globals) {
		out := sessionDetailJSON{
			sessionJSON: toSessionJSON(*s),
			Results:     make([]scanResultJSON, len(results)),
			Malicious:   toMaliciousJSON(malicious),
		}
		for i, r := range results {
			out.Results[i] = scanResultJSON{
				URL:       r.URL,
				Verdict:   r.Verdict,
				Positives: r.Positives,
				Total:     r.Total,
				Detail:    r.Detail,
				ScannedAt: r.ScannedAt,
			}
		}
		return printJSON(out)
	}

	fmt.Printf("Session %d\n", s.ID)
	fmt.Printf("  Date:      %s\n", s.SessionDate.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Status:    %s\n", s.Status)
	fmt.Printf("  URLs:      %d\n", s.TotalURLs)
	fmt.Printf("  Malicious: %d\n", s.MaliciousCount)
	fmt.Printf("  Duration:  %s\n", formatSeconds(s.ScanDurationSeconds))
	if len(s.MaliciousDomains) > 0 {
		fmt.Printf("  Domains:   %s\n", strings.Join(s.MaliciousDomains, ", "))
	}

	if len(results) > 0 {
		fmt.Println()
		table := newTable("URL", "Verdict", "Detections", "Detail")
		for _, r := range results {
			table.Append([]string{
				truncate(r.URL, 60),
				r.Verdict,
				strconv.Itoa(r.Positives) + "/" + strconv.Itoa(r.Total),
				truncate(r.Detail, 40),
			})
		}
		table.Render()
	}
	return nil
}
