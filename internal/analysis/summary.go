package analysis

import (
	"fmt"
	"net"
	"sort"

	"github.com/runnerr0/histscan/internal/storage"
	"golang.org/x/net/publicsuffix"
)

// MostFrequentURLCount is how many URLs Summarize ranks.
const MostFrequentURLCount = 5

// DefaultTopDomains is the domain ranking size used by the daemon.
const DefaultTopDomains = 10

// DomainCount is a domain with the number of history entries on it.
type DomainCount struct {
	Domain string `json:"domain"`
	Visits int    `json:"visits"`
}

// Label renders the count the way the extension displays it.
func (d DomainCount) Label() string {
	return fmt.Sprintf("%s (%d visits)", d.Domain, d.Visits)
}

// URLCount is a URL with the number of history entries for it.
type URLCount struct {
	URL       string `json:"url"`
	Frequency int    `json:"frequency"`
}

// Summary describes a set of history entries.
type Summary struct {
	TotalEntries     int
	UniqueURLs       int
	UniqueDomains    int
	TopDomains       []DomainCount
	MostFrequentURLs []URLCount
	TopRootDomains   []DomainCount
}

// TopDomainLabels returns TopDomains as display strings.
func (s Summary) TopDomainLabels() []string {
	out := make([]string, 0, len(s.TopDomains))
	for _, d := range s.TopDomains {
		out = append(out, d.Label())
	}
	return out
}

// Summarize counts entries per URL, per domain and per registrable root
// domain. Rankings are by count descending, ties by name.
func Summarize(entries []storage.HistoryEntry, topN int) Summary {
	urls := make(map[string]int)
	domains := make(map[string]int)
	roots := make(map[string]int)

	for _, e := range entries {
		urls[e.URL]++
		d := storage.DeriveDomain(e.URL)
		if d == "" {
			continue
		}
		domains[d]++
		roots[RootDomain(d)]++
	}

	s := Summary{
		TotalEntries:   len(entries),
		UniqueURLs:     len(urls),
		UniqueDomains:  len(domains),
		TopDomains:     rankDomains(domains, topN),
		TopRootDomains: rankDomains(roots, topN),
	}

	ranked := make([]URLCount, 0, len(urls))
	for u, n := range urls {
		ranked = append(ranked, URLCount{URL: u, Frequency: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Frequency != ranked[j].Frequency {
			return ranked[i].Frequency > ranked[j].Frequency
		}
		return ranked[i].URL < ranked[j].URL
	})
	if len(ranked) > MostFrequentURLCount {
		ranked = ranked[:MostFrequentURLCount]
	}
	s.MostFrequentURLs = ranked

	return s
}

func rankDomains(counts map[string]int, topN int) []DomainCount {
	ranked := make([]DomainCount, 0, len(counts))
	for d, n := range counts {
		ranked = append(ranked, DomainCount{Domain: d, Visits: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Visits != ranked[j].Visits {
			return ranked[i].Visits > ranked[j].Visits
		}
		return ranked[i].Domain < ranked[j].Domain
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// RootDomain returns the registrable domain (eTLD+1) of host, or host itself
// when it has none (IP addresses, bare suffixes, single labels).
func RootDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}
