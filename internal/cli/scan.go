package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"

	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/scan"
)

// pollInterval is how often the progress bar reads the job state.
var pollInterval = 200 * time.Millisecond

// Execute implements the go-flags Commander interface for ScanCommand.
func (c *ScanCommand) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(c.globals, func(a *app.App) error {
		return c.executeWithApp(ctx, a)
	})
}

// executeWithApp runs a scan and waits for it. Cancelling ctx stops the
// scan before its next lookup; the partial session is still recorded.
func (c *ScanCommand) executeWithApp(ctx context.Context, a *app.App) error {
	job, err := a.StartScan(ctx)
	switch {
	case errors.Is(err, scan.ErrMissingAPIKey):
		return fmt.Errorf("%w: store one with `histscan apikey --set KEY` (get a free key with `histscan apikey --signup`)", err)
	case errors.Is(err, scan.ErrNothingToScan):
		return fmt.Errorf("%w: import history first with `histscan import` or `histscan pull`", err)
	case err != nil:
		return err
	}

	total := len(job.Candidates.Entries)
	if !jsonOutput(c.globals) {
		fmt.Printf("Scanning %d URLs with VirusTotal (%d excluded, %d over the per-run limit)\n",
			total, job.Candidates.Rejected, job.Candidates.Truncated)
		fmt.Printf("Free-tier throttle: at most %d requests per minute, %s apart\n\n",
			a.Config.Scan.QuotaPerMinute, a.Config.Scan.MinDelay)
	}

	go func() {
		select {
		case <-ctx.Done():
			job.Cancel()
		case <-job.Done():
		}
	}()

	if jsonOutput(c.globals) {
		<-job.Done()
	} else {
		c.trackProgress(job, total)
	}

	report, err := job.Wait(context.Background())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput(c.globals) {
		return printJSON(toReportJSON(report, a.StorageMode()))
	}
	return printReportHuman(report, a.Store.Available())
}

// trackProgress renders a progress bar until job finishes.
func (c *ScanCommand) trackProgress(job *scan.Job, total int) {
	out := c.progress
	if out == nil {
		out = os.Stderr
	}

	p := mpb.New(mpb.WithWidth(20), mpb.WithOutput(out))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("[-] VirusTotal scan:", decor.WC{W: 22, C: decor.DidentRight}),
			decor.CountersNoUnit(" %d / %d ", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	shown := 0
	for running := true; running; {
		select {
		case <-job.Done():
			running = false
		case <-ticker.C:
		}
		if d := job.Snapshot().Progress.Done - shown; d > 0 {
			bar.IncrBy(d)
			shown += d
		}
	}
	// A cancelled job stops short; fill the bar so the renderer exits.
	if shown < total {
		bar.IncrBy(total - shown)
	}
	p.Wait()
}

type verdictJSON struct {
	Index     int    `json:"index"`
	URL       string `json:"url"`
	Verdict   string `json:"verdict"`
	Positives int    `json:"positives"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

type reportJSON struct {
	SessionID int64         `json:"session_id"`
	Storage   string        `json:"storage"`
	Total     int           `json:"total"`
	Malicious int           `json:"malicious"`
	Clean     int           `json:"clean"`
	Unknown   int           `json:"unknown"`
	Errors    int           `json:"errors"`
	Domains   []string      `json:"malicious_domains"`
	Seconds   int64         `json:"duration_seconds"`
	Cancelled bool          `json:"cancelled"`
	Results   []verdictJSON `json:"results"`
}

func toReportJSON(r *scan.Report, storageMode string) reportJSON {
	out := reportJSON{
		SessionID: r.SessionID,
		Storage:   storageMode,
		Total:     r.Total,
		Malicious: r.Malicious,
		Clean:     r.Clean,
		Unknown:   r.Unknown,
		Errors:    r.Errors,
		Domains:   r.Domains,
		Seconds:   int64(r.Duration / time.Second),
		Cancelled: r.Cancelled,
		Results:   make([]verdictJSON, len(r.Lines)),
	}
	for i, l := range r.Lines {
		pos, total := scan.Counts(l.Verdict)
		out.Results[i] = verdictJSON{
			Index:     l.Index,
			URL:       l.URL,
			Verdict:   l.Verdict.Kind(),
			Positives: pos,
			Total:     total,
			Message:   l.Verdict.String(),
		}
	}
	return out
}

func printReportHuman(r *scan.Report, persisted bool) error {
	if len(r.Lines) > 0 {
		table := newTable("#", "URL", "Result")
		for _, l := range r.Lines {
			table.Append([]string{strconv.Itoa(l.Index), truncate(l.URL, 60), l.Verdict.String()})
		}
		table.Render()
		fmt.Println()
	}

	if r.Cancelled {
		fmt.Printf("Scan cancelled after %d of %d URLs.\n", len(r.Lines), r.Total)
	}
	fmt.Printf("Scanned %d URLs in %s: %d malicious, %d clean, %d unknown, %d errors\n",
		len(r.Lines), formatSeconds(int64(r.Duration/time.Second)), r.Malicious, r.Clean, r.Unknown, r.Errors)

	if len(r.Domains) > 0 {
		fmt.Println()
		fmt.Println("Malicious domains:")
		for _, d := range r.Domains {
			fmt.Printf("  - %s\n", d)
		}
	}

	fmt.Println()
	if persisted && r.SessionID > 0 {
		fmt.Printf("Saved as session %d (histscan sessions --id %d)\n", r.SessionID, r.SessionID)
	} else {
		fmt.Println("Results were not saved: storage is unavailable.")
	}
	return nil
}
