package scan

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runnerr0/histscan/internal/analysis"
	"github.com/runnerr0/histscan/internal/storage"
	"github.com/runnerr0/histscan/internal/virustotal"
)

// DefaultCooldown is the extra pause after VirusTotal answers 204.
const DefaultCooldown = 30 * time.Second

// Lookup fetches a URL report. *virustotal.Client implements it.
type Lookup interface {
	URLReport(ctx context.Context, resource string) (*virustotal.URLReport, error)
}

// Progress is the scan position. Done never decreases.
type Progress struct {
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Current string `json:"current"`
}

// Line is one entry of the running report.
type Line struct {
	Index   int     `json:"index"`
	URL     string  `json:"url"`
	Verdict Verdict `json:"-"`
}

func (l Line) String() string {
	return fmt.Sprintf("[%d] %s: %s", l.Index, l.URL, l.Verdict)
}

// Report summarizes a finished (or cancelled) run.
type Report struct {
	SessionID int64
	Total     int
	Malicious int
	Clean     int
	Unknown   int
	Errors    int
	Domains   []string
	Duration  time.Duration
	Lines     []Line
	Cancelled bool
}

// Options tune an Orchestrator. Zero values take defaults.
type Options struct {
	Cooldown  time.Duration
	Clock     Clock
	Logger    *log.Logger
	OnVerdict func(Progress, Line)
}

// Orchestrator runs one batch of lookups strictly in order through the
// limiter and applies each verdict to the store as it arrives.
type Orchestrator struct {
	store     storage.Store
	lookup    Lookup
	limiter   *RateLimiter
	clock     Clock
	cooldown  time.Duration
	logger    *log.Logger
	onVerdict func(Progress, Line)
}

// NewOrchestrator wires an orchestrator. The limiter should be shared
// between orchestrators of the same process.
func NewOrchestrator(store storage.Store, lookup Lookup, limiter *RateLimiter, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		lookup:    lookup,
		limiter:   limiter,
		clock:     opts.Clock,
		cooldown:  opts.Cooldown,
		logger:    opts.Logger,
		onVerdict: opts.OnVerdict,
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	if o.limiter == nil {
		o.limiter = NewRateLimiter(DefaultLimits(), o.clock)
	}
	return o
}

// Run scans entries, which must already be filtered. The session is
// reserved before the first lookup so malicious records can reference it,
// and closed after the last one. Cancelling ctx stops the run before the
// next lookup; the report is then marked Cancelled.
func (o *Orchestrator) Run(ctx context.Context, entries []storage.HistoryEntry) (*Report, error) {
	if len(entries) == 0 {
		return nil, ErrNothingToScan
	}

	start := o.clock.Now()
	report := &Report{Total: len(entries), Lines: make([]Line, 0, len(entries))}
	domains := analysis.NewDomainSet()
	flagged := make(map[string]struct{})

	sessionID := o.store.ReserveSession(ctx, len(entries))
	o.logger.Info("scan started", "urls", len(entries), "session", sessionID)

	for i, entry := range entries {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if err := o.limiter.Wait(ctx); err != nil {
			report.Cancelled = true
			break
		}

		res, err := o.lookup.URLReport(ctx, entry.URL)
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		verdict := Classify(res, err)

		switch v := verdict.(type) {
		case Malicious:
			o.recordMalicious(ctx, entry, v, res, sessionID)
			flagged[entry.URL] = struct{}{}
			domains.Add(storage.DeriveDomain(entry.URL))
		case Clean:
			report.Clean++
		case Unknown:
			report.Unknown++
		case Failure:
			report.Errors++
		}

		line := Line{Index: i + 1, URL: entry.URL, Verdict: verdict}
		report.Lines = append(report.Lines, line)
		o.logger.Info("verdict", "n", line.Index, "of", len(entries), "url", entry.URL, "result", verdict.String())

		positives, total := Counts(verdict)
		detail := ""
		if f, ok := verdict.(Failure); ok {
			detail = f.Cause
		}
		o.store.RecordScanResult(ctx, &storage.ScanResult{
			SessionID: sessionID,
			URL:       entry.URL,
			Verdict:   verdict.Kind(),
			Positives: positives,
			Total:     total,
			Detail:    detail,
			ScannedAt: o.clock.Now(),
		})

		if o.onVerdict != nil {
			o.onVerdict(Progress{Done: i + 1, Total: len(entries), Current: entry.URL}, line)
		}

		if f, ok := verdict.(Failure); ok && f.QuotaExceeded && i < len(entries)-1 {
			o.logger.Warn("VirusTotal quota exceeded, cooling down", "wait", o.cooldown)
			if err := o.clock.Sleep(ctx, o.cooldown); err != nil {
				report.Cancelled = true
				break
			}
		}
	}

	// Malicious counts distinct URLs; a URL listed twice is one record.
	report.Malicious = len(flagged)
	report.Domains = domains.Items()
	report.Duration = o.clock.Now().Sub(start)
	report.SessionID = o.closeSession(context.WithoutCancel(ctx), sessionID, report)

	o.logger.Info("scan finished",
		"session", report.SessionID,
		"malicious", report.Malicious,
		"clean", report.Clean,
		"unknown", report.Unknown,
		"errors", report.Errors,
		"cancelled", report.Cancelled,
		"duration", report.Duration.Round(time.Second),
	)
	return report, nil
}

func (o *Orchestrator) recordMalicious(ctx context.Context, entry storage.HistoryEntry, v Malicious, res *virustotal.URLReport, sessionID int64) {
	now := o.clock.Now()
	rec := &storage.MaliciousRecord{
		URL:           entry.URL,
		Title:         entry.Title,
		Positives:     v.Positives,
		Total:         v.Total,
		VisitCount:    entry.VisitCount,
		LastVisitTime: entry.LastVisitTime,
		SessionID:     sessionID,
		DetectionTime: now,
		ScanDate:      now,
	}
	if res != nil {
		if t, ok := res.ScanTime(); ok {
			rec.ScanDate = t
		}
	}
	o.store.RecordMalicious(ctx, rec)
}

func (o *Orchestrator) closeSession(ctx context.Context, sessionID int64, r *Report) int64 {
	status := storage.SessionCompleted
	if r.Cancelled {
		status = storage.SessionCancelled
	}
	seconds := int64(r.Duration / time.Second)

	if sessionID > 0 {
		if !o.store.CompleteSession(ctx, sessionID, r.Malicious, seconds, r.Domains, status) {
			o.logger.Warn("could not close session", "session", sessionID)
		}
		return sessionID
	}

	id := o.store.OpenSession(ctx, r.Total, r.Malicious, seconds, r.Domains)
	if id > 0 && r.Cancelled {
		o.store.CompleteSession(ctx, id, r.Malicious, seconds, r.Domains, status)
	}
	return id
}
