package scan

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/runnerr0/histscan/internal/storage"
)

// LookupFactory builds a Lookup for an API key.
type LookupFactory func(apiKey string) Lookup

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Store     storage.Store
	Limiter   *RateLimiter
	Clock     Clock
	Policy    Policy
	Cooldown  time.Duration
	NewLookup LookupFactory
	// APIKey resolves the credential at the start of each job.
	APIKey func(ctx context.Context) string
	Logger *log.Logger
}

// Runner executes at most one scan at a time on a background goroutine.
type Runner struct {
	cfg RunnerConfig

	mu      sync.Mutex
	current *Job
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(DefaultLimits(), cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Runner{cfg: cfg}
}

// Start filters entries and launches a scan of the survivors. It fails with
// ErrScanInProgress, ErrMissingAPIKey or ErrNothingToScan without touching
// the store.
func (r *Runner) Start(entries []storage.HistoryEntry) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.Running() {
		return nil, ErrScanInProgress
	}

	key := ""
	if r.cfg.APIKey != nil {
		key = r.cfg.APIKey(context.Background())
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	cands := r.cfg.Policy.Filter(entries)
	if len(cands.Entries) == 0 {
		return nil, ErrNothingToScan
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         uuid.NewString(),
		Candidates: cands,
		StartedAt:  r.cfg.Clock.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		progress:   Progress{Total: len(cands.Entries)},
	}

	orch := NewOrchestrator(r.cfg.Store, r.cfg.NewLookup(key), r.cfg.Limiter, Options{
		Cooldown:  r.cfg.Cooldown,
		Clock:     r.cfg.Clock,
		Logger:    r.cfg.Logger.With("job", job.ID),
		OnVerdict: job.advance,
	})

	r.current = job
	r.cfg.Logger.Info("scan job started", "job", job.ID, "urls", len(cands.Entries),
		"rejected", cands.Rejected, "truncated", cands.Truncated)

	go func() {
		defer cancel()
		report, err := orch.Run(ctx, cands.Entries)
		job.finish(report, err)
	}()

	return job, nil
}

// Current returns the running job, or the last finished one, or nil.
func (r *Runner) Current() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Cancel stops the running job, if any, and reports whether one was running.
func (r *Runner) Cancel() bool {
	job := r.Current()
	if job == nil || !job.Running() {
		return false
	}
	job.Cancel()
	return true
}

// Shutdown cancels the running job and waits for it to close its session
// or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	job := r.Current()
	if job == nil {
		return nil
	}
	job.Cancel()
	select {
	case <-job.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Job is one background scan.
type Job struct {
	ID         string
	Candidates Candidates
	StartedAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	progress Progress
	lines    []Line
	report   *Report
	err      error
}

// JobSnapshot is a consistent copy of a job's state.
type JobSnapshot struct {
	ID        string
	Running   bool
	StartedAt time.Time
	Rejected  int
	Truncated int
	Progress  Progress
	Lines     []Line
	Report    *Report
	Err       error
}

// Done is closed once the job has finished and its session is closed.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel asks the job to stop before its next lookup.
func (j *Job) Cancel() { j.cancel() }

// Running reports whether the job has not finished yet.
func (j *Job) Running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-j.done:
		j.mu.RLock()
		defer j.mu.RUnlock()
		return j.report, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	lines := make([]Line, len(j.lines))
	copy(lines, j.lines)
	return JobSnapshot{
		ID:        j.ID,
		Running:   j.Running(),
		StartedAt: j.StartedAt,
		Rejected:  j.Candidates.Rejected,
		Truncated: j.Candidates.Truncated,
		Progress:  j.progress,
		Lines:     lines,
		Report:    j.report,
		Err:       j.err,
	}
}

func (j *Job) advance(p Progress, l Line) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.Done > j.progress.Done {
		j.progress = p
	}
	j.lines = append(j.lines, l)
}

func (j *Job) finish(report *Report, err error) {
	j.mu.Lock()
	j.report = report
	j.err = err
	j.mu.Unlock()
	close(j.done)
}
