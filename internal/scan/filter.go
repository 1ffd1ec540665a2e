package scan

import (
	"strings"

	"github.com/runnerr0/histscan/internal/config"
	"github.com/runnerr0/histscan/internal/storage"
)

// Policy decides which history entries are sent for lookup.
type Policy struct {
	Markers   []string
	MaxLength int
	Cap       int
}

// DefaultPolicy returns the stock markers and length limit with the given cap on URLs per run.
func DefaultPolicy(limit int) Policy {
	return Policy{
		Markers:   config.DefaultExcludeMarkers(),
		MaxLength: 500,
		Cap:       limit,
	}
}

// PolicyFromConfig builds a Policy from the scan config section.
func PolicyFromConfig(c config.ScanConfig) Policy {
	return Policy{Markers: c.ExcludeMarkers, MaxLength: c.MaxURLLength, Cap: c.MaxURLs}
}

// Candidates is the outcome of filtering.
type Candidates struct {
	Entries   []storage.HistoryEntry
	Rejected  int // failed a rule
	Truncated int // passed but beyond the cap
}

// FilterCandidates applies DefaultPolicy(limit) to entries.
func FilterCandidates(entries []storage.HistoryEntry, limit int) Candidates {
	return DefaultPolicy(limit).Filter(entries)
}

// Filter keeps entries with a non-blank http(s) URL that contains none of
// the markers and is no longer than MaxLength, then truncates to Cap.
// Input order is preserved.
func (p Policy) Filter(entries []storage.HistoryEntry) Candidates {
	var c Candidates
	kept := make([]storage.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if !p.Accept(e.URL) {
			c.Rejected++
			continue
		}
		kept = append(kept, e)
	}

	if p.Cap > 0 && len(kept) > p.Cap {
		c.Truncated = len(kept) - p.Cap
		kept = kept[:p.Cap]
	}
	c.Entries = kept
	return c
}

// Accept reports whether a single URL passes the rules, ignoring the cap.
func (p Policy) Accept(rawURL string) bool {
	if strings.TrimSpace(rawURL) == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, m := range p.Markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return false
		}
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}
	if p.MaxLength > 0 && len(rawURL) > p.MaxLength {
		return false
	}
	return true
}
