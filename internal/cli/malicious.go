package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/storage"
)

type maliciousJSON struct {
	URL           string    `json:"url"`
	Domain        string    `json:"domain"`
	Title         string    `json:"title"`
	Positives     int       `json:"positives"`
	Total         int       `json:"total"`
	VisitCount    int       `json:"visit_count"`
	LastVisitTime int64     `json:"last_visit_time"`
	SessionID     int64     `json:"session_id,omitempty"`
	DetectionTime time.Time `json:"detection_time"`
	ScanDate      time.Time `json:"scan_date"`
}

func toMaliciousJSON(records []storage.MaliciousRecord) []maliciousJSON {
	out := make([]maliciousJSON, len(records))
	for i, r := range records {
		sid := r.SessionID
		if sid < 0 {
			sid = 0
		}
		out[i] = maliciousJSON{
			URL:           r.URL,
			Domain:        r.Domain,
			Title:         r.Title,
			Positives:     r.Positives,
			Total:         r.Total,
			VisitCount:    r.VisitCount,
			LastVisitTime: r.LastVisitTime,
			SessionID:     sid,
			DetectionTime: r.DetectionTime,
			ScanDate:      r.ScanDate,
		}
	}
	return out
}

// Execute implements the go-flags Commander interface for MaliciousCommand.
func (c *MaliciousCommand) Execute(args []string) error {
	return withApp(c.globals, c.executeWithApp)
}

func (c *MaliciousCommand) executeWithApp(a *app.App) error {
	records := a.Malicious(context.Background())
	if c.Limit > 0 && len(records) > c.Limit {
		records = records[:c.Limit]
	}

	if jsonOutput(c.globals) {
		return printJSON(map[string]interface{}{
			"count":          len(records),
			"malicious_urls": toMaliciousJSON(records),
		})
	}

	if len(records) == 0 {
		fmt.Println("No malicious URLs recorded.")
		return nil
	}
	printMaliciousTable(records)
	return nil
}

func printMaliciousTable(records []storage.MaliciousRecord) {
	table := newTable("URL", "Domain", "Detections", "Detected")
	for _, r := range records {
		detected := "-"
		if !r.DetectionTime.IsZero() {
			detected = r.DetectionTime.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			truncate(r.URL, 60),
			r.Domain,
			strconv.Itoa(r.Positives) + "/" + strconv.Itoa(r.Total),
			detected,
		})
	}
	table.Render()
	fmt.Printf("\n%d malicious URLs\n", len(records))
}
