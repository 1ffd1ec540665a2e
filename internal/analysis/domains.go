// Package analysis summarizes stored history and exports flagged domains.
package analysis

import (
	"time"

	"github.com/runnerr0/histscan/internal/storage"
)

// DomainSet is an insertion-ordered set of domains.
type DomainSet struct {
	seen  map[string]struct{}
	items []string
}

// NewDomainSet returns an empty set.
func NewDomainSet() *DomainSet {
	return &DomainSet{seen: make(map[string]struct{})}
}

// Add inserts d and reports whether it was new. Empty strings are ignored.
func (s *DomainSet) Add(d string) bool {
	if d == "" {
		return false
	}
	if _, ok := s.seen[d]; ok {
		return false
	}
	s.seen[d] = struct{}{}
	s.items = append(s.items, d)
	return true
}

// Contains reports whether d was added.
func (s *DomainSet) Contains(d string) bool {
	_, ok := s.seen[d]
	return ok
}

// Len is the number of distinct domains.
func (s *DomainSet) Len() int { return len(s.items) }

// Items returns a copy of the domains in insertion order.
func (s *DomainSet) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// ExportVersion tags the domain export format.
const ExportVersion = "1.0"

// DomainExport is the block-list document handed to downstream tools.
type DomainExport struct {
	Version   string   `json:"version"`
	Domains   []string `json:"domains"`
	Count     int      `json:"count"`
	Timestamp int64    `json:"timestamp"`
}

// ExportDomains collects the distinct domains of records, keeping the order
// in which they first appear.
func ExportDomains(records []storage.MaliciousRecord, now time.Time) DomainExport {
	set := NewDomainSet()
	for _, r := range records {
		d := r.Domain
		if d == "" {
			d = storage.DeriveDomain(r.URL)
		}
		set.Add(d)
	}
	return DomainExport{
		Version:   ExportVersion,
		Domains:   set.Items(),
		Count:     set.Len(),
		Timestamp: now.UnixMilli(),
	}
}
