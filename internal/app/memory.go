package app

import (
	"context"
	"sync"

	"github.com/runnerr0/histscan/internal/scan"
	"github.com/runnerr0/histscan/internal/storage"
)

// recent is the last history batch received by this process. It backs the
// read endpoints when the store is unavailable.
type recent struct {
	mu      sync.RWMutex
	history []storage.HistoryEntry
}

func (r *recent) set(entries []storage.HistoryEntry) {
	cp := make([]storage.HistoryEntry, len(entries))
	copy(cp, entries)
	r.mu.Lock()
	r.history = cp
	r.mu.Unlock()
}

func (r *recent) get() []storage.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.HistoryEntry, len(r.history))
	copy(out, r.history)
	return out
}

// IngestHistory keeps entries as the current batch and appends them to the
// store. It returns the number of rows newly written.
func (a *App) IngestHistory(ctx context.Context, entries []storage.HistoryEntry) int64 {
	if len(entries) == 0 {
		return 0
	}
	a.recent.set(entries)
	return a.Store.AppendHistory(ctx, entries)
}

// History lists stored history, or the current batch in memory-only mode.
func (a *App) History(ctx context.Context) []storage.HistoryEntry {
	if a.Store.Available() {
		return a.Store.ListHistory(ctx)
	}
	return a.recent.get()
}

// Malicious lists stored malicious records. In memory-only mode the records
// are rebuilt from the verdicts of the latest scan job.
func (a *App) Malicious(ctx context.Context) []storage.MaliciousRecord {
	if a.Store.Available() {
		return a.Store.ListMalicious(ctx)
	}

	out := []storage.MaliciousRecord{}
	job := a.Runner.Current()
	if job == nil {
		return out
	}
	snap := job.Snapshot()
	seen := make(map[string]struct{})
	for _, line := range snap.Lines {
		v, ok := line.Verdict.(scan.Malicious)
		if !ok {
			continue
		}
		if _, dup := seen[line.URL]; dup {
			continue
		}
		seen[line.URL] = struct{}{}
		out = append(out, storage.MaliciousRecord{
			URL:           line.URL,
			Domain:        storage.DeriveDomain(line.URL),
			Positives:     v.Positives,
			Total:         v.Total,
			SessionID:     -1,
			DetectionTime: snap.StartedAt,
			ScanDate:      snap.StartedAt,
		})
	}
	return out
}

// Stats reports collection counts from the store or the in-memory view.
func (a *App) Stats(ctx context.Context) storage.Stats {
	if a.Store.Available() {
		return a.Store.Stats(ctx)
	}
	return storage.Stats{
		HistoryCount:   int64(len(a.recent.get())),
		MaliciousCount: int64(len(a.Malicious(ctx))),
	}
}

// StartScan launches a background scan over the known history. A done ctx
// returns its error without starting a job.
func (a *App) StartScan(ctx context.Context) (*scan.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Runner.Start(a.History(ctx))
}
