// Package server exposes the local HTTP endpoints used by the browser
// extension and by local tools.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"

	"github.com/runnerr0/histscan/internal/analysis"
	"github.com/runnerr0/histscan/internal/app"
	"github.com/runnerr0/histscan/internal/ingest"
	"github.com/runnerr0/histscan/internal/scan"
	"github.com/runnerr0/histscan/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the fiber application bound to an App.
type Server struct {
	app    *app.App
	fiber  *fiber.App
	logger *log.Logger
	now    func() time.Time
}

// New builds the server and registers every route.
func New(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger.With("component", "server"),
		now:    time.Now,
	}

	s.fiber = fiber.New(fiber.Config{
		AppName:               "histscan",
		BodyLimit:             a.Config.Daemon.MaxRequestSize,
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          s.handleError,
	})

	s.fiber.Use(recover.New())
	s.fiber.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	s.fiber.Use(s.logRequest)

	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.fiber.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/history", s.handleHistoryPost)
	api.Get("/history", s.handleHistoryGet)
	api.Get("/import", s.handleImport)
	api.Get("/malicious", s.handleMalicious)
	api.Get("/analyze", s.handleAnalyze)
	api.Post("/scan", s.handleScanStart)
	api.Get("/scan", s.handleScanStatus)
	api.Delete("/scan", s.handleScanCancel)
	api.Get("/sessions", s.handleSessions)
}

// App returns the underlying fiber app, for tests.
func (s *Server) App() *fiber.App { return s.fiber }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	d := s.app.Config.Daemon
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Listen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.fiber.Listen(s.Addr())
	}()
	s.logger.Info("listening", "addr", s.Addr(), "storage", s.app.StorageMode())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.Addr(), err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.fiber.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"took", time.Since(start),
	)
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"status": "error", "message": err.Error()})
}

type statusResponse struct {
	Status           string     `json:"status"`
	Port             int        `json:"port"`
	MainAppConnected bool       `json:"mainAppConnected"`
	HistoryCount     int64      `json:"historyCount"`
	MaliciousCount   int64      `json:"maliciousCount"`
	SessionCount     int64      `json:"sessionCount"`
	Storage          string     `json:"storage"`
	Scan             scanStatus `json:"scan"`
}

type scanStatus struct {
	Running bool   `json:"running"`
	JobID   string `json:"jobId,omitempty"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	stats := s.app.Stats(c.UserContext())
	resp := statusResponse{
		Status:           "running",
		Port:             s.app.Config.Daemon.Port,
		MainAppConnected: true,
		HistoryCount:     stats.HistoryCount,
		MaliciousCount:   stats.MaliciousCount,
		SessionCount:     stats.SessionCount,
		Storage:          s.app.StorageMode(),
	}
	if job := s.app.Runner.Current(); job != nil {
		snap := job.Snapshot()
		resp.Scan = scanStatus{
			Running: snap.Running,
			JobID:   snap.ID,
			Done:    snap.Progress.Done,
			Total:   snap.Progress.Total,
		}
	}
	return c.JSON(resp)
}

type entryJSON struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	VisitCount    int    `json:"visitCount"`
	LastVisitTime int64  `json:"lastVisitTime"`
}

func (s *Server) handleHistoryPost(c *fiber.Ctx) error {
	body := c.Body()
	s.logger.Info("received history data", "bytes", len(body))

	entries, err := ingest.ParsePayload(body, s.app.Config.Import.DefaultBrowser)
	if err != nil {
		s.logger.Warn("no valid history entries", "err", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "No valid history data found",
		})
	}

	written := s.app.IngestHistory(c.UserContext(), entries)
	s.logger.Info("processed history entries", "entries", len(entries), "new", written)

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": fmt.Sprintf("Received %d history entries", len(entries)),
		"entries": len(entries),
	})
}

func (s *Server) handleHistoryGet(c *fiber.Ctx) error {
	history := s.app.History(c.UserContext())
	out := make([]entryJSON, 0, len(history))
	for _, e := range history {
		out = append(out, entryJSON{URL: e.URL, Title: e.Title, VisitCount: e.VisitCount, LastVisitTime: e.LastVisitTime})
	}
	return c.JSON(fiber.Map{"count": len(out), "entries": out})
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	export := analysis.ExportDomains(s.app.Malicious(c.UserContext()), s.now())
	return c.JSON(export)
}

type maliciousJSON struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	VisitCount    int    `json:"visitCount"`
	LastVisitTime int64  `json:"lastVisitTime"`
	Domain        string `json:"domain"`
	Positives     int    `json:"positives"`
	Total         int    `json:"total"`
}

func toMaliciousJSON(records []storage.MaliciousRecord) []maliciousJSON {
	out := make([]maliciousJSON, 0, len(records))
	for _, r := range records {
		out = append(out, maliciousJSON{
			URL:           r.URL,
			Title:         r.Title,
			VisitCount:    r.VisitCount,
			LastVisitTime: r.LastVisitTime,
			Domain:        r.Domain,
			Positives:     r.Positives,
			Total:         r.Total,
		})
	}
	return out
}

func (s *Server) handleMalicious(c *fiber.Ctx) error {
	out := toMaliciousJSON(s.app.Malicious(c.UserContext()))
	return c.JSON(fiber.Map{"count": len(out), "maliciousUrls": out})
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	top := c.QueryInt("top", analysis.DefaultTopDomains)
	if top < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "top must be positive")
	}
	sum := analysis.Summarize(s.app.History(c.UserContext()), top)
	return c.JSON(fiber.Map{"analysis": fiber.Map{
		"totalEntries":     sum.TotalEntries,
		"uniqueUrls":       sum.UniqueURLs,
		"uniqueDomains":    sum.UniqueDomains,
		"topDomains":       sum.TopDomainLabels(),
		"mostFrequentUrls": sum.MostFrequentURLs,
		"topRootDomains":   sum.TopRootDomains,
	}})
}

func (s *Server) handleScanStart(c *fiber.Ctx) error {
	job, err := s.app.StartScan(c.UserContext())
	switch {
	case errors.Is(err, scan.ErrScanInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, scan.ErrMissingAPIKey):
		return fiber.NewError(fiber.StatusPreconditionFailed, err.Error())
	case errors.Is(err, scan.ErrNothingToScan):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case err != nil:
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":     job.ID,
		"total":     len(job.Candidates.Entries),
		"truncated": job.Candidates.Truncated,
		"rejected":  job.Candidates.Rejected,
	})
}

type lineJSON struct {
	Index     int    `json:"index"`
	URL       string `json:"url"`
	Verdict   string `json:"verdict"`
	Positives int    `json:"positives"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

type reportJSON struct {
	SessionID int64    `json:"sessionId"`
	Total     int      `json:"total"`
	Malicious int      `json:"malicious"`
	Clean     int      `json:"clean"`
	Unknown   int      `json:"unknown"`
	Errors    int      `json:"errors"`
	Domains   []string `json:"domains"`
	Seconds   float64  `json:"durationSeconds"`
	Cancelled bool     `json:"cancelled"`
}

type jobJSON struct {
	JobID     string        `json:"jobId"`
	Running   bool          `json:"running"`
	StartedAt time.Time     `json:"startedAt"`
	Rejected  int           `json:"rejected"`
	Truncated int           `json:"truncated"`
	Progress  scan.Progress `json:"progress"`
	Lines     []lineJSON    `json:"lines"`
	Report    *reportJSON   `json:"report,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func snapshotJSON(snap scan.JobSnapshot) jobJSON {
	out := jobJSON{
		JobID:     snap.ID,
		Running:   snap.Running,
		StartedAt: snap.StartedAt,
		Rejected:  snap.Rejected,
		Truncated: snap.Truncated,
		Progress:  snap.Progress,
		Lines:     make([]lineJSON, 0, len(snap.Lines)),
	}
	for _, l := range snap.Lines {
		pos, total := scan.Counts(l.Verdict)
		out.Lines = append(out.Lines, lineJSON{
			Index:     l.Index,
			URL:       l.URL,
			Verdict:   l.Verdict.Kind(),
			Positives: pos,
			Total:     total,
			Message:   l.Verdict.String(),
		})
	}
	if r := snap.Report; r != nil {
		out.Report = &reportJSON{
			SessionID: r.SessionID,
			Total:     r.Total,
			Malicious: r.Malicious,
			Clean:     r.Clean,
			Unknown:   r.Unknown,
			Errors:    r.Errors,
			Domains:   r.Domains,
			Seconds:   r.Duration.Seconds(),
			Cancelled: r.Cancelled,
		}
	}
	if snap.Err != nil {
		out.Error = snap.Err.Error()
	}
	return out
}

func (s *Server) handleScanStatus(c *fiber.Ctx) error {
	job := s.app.Runner.Current()
	if job == nil {
		return fiber.NewError(fiber.StatusNotFound, "no scan has been started")
	}
	return c.JSON(snapshotJSON(job.Snapshot()))
}

func (s *Server) handleScanCancel(c *fiber.Ctx) error {
	cancelled := s.app.Runner.Cancel()
	if cancelled {
		s.logger.Info("scan cancellation requested")
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}

type sessionJSON struct {
	ID               int64     `json:"id"`
	SessionDate      time.Time `json:"sessionDate"`
	TotalURLs        int       `json:"totalUrls"`
	MaliciousCount   int       `json:"maliciousCount"`
	ScanDuration     int64     `json:"scanDurationSeconds"`
	MaliciousDomains []string  `json:"maliciousDomains"`
	Status           string    `json:"status"`
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	sessions := s.app.Store.ListSessions(c.UserContext())
	out := make([]sessionJSON, 0, len(sessions))
	for _, ss := range sessions {
		domains := ss.MaliciousDomains
		if domains == nil {
			domains = []string{}
		}
		out = append(out, sessionJSON{
			ID:               ss.ID,
			SessionDate:      ss.SessionDate,
			TotalURLs:        ss.TotalURLs,
			MaliciousCount:   ss.MaliciousCount,
			ScanDuration:     ss.ScanDurationSeconds,
			MaliciousDomains: domains,
			Status:           ss.Status,
		})
	}
	return c.JSON(fiber.Map{"count": len(out), "sessions": out})
}
