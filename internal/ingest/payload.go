// Package ingest turns browser history from the extension, exported files
// and local browser profiles into storage.HistoryEntry values.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/runnerr0/histscan/internal/config"
	"github.com/runnerr0/histscan/internal/storage"
)

// ErrNoEntries means the input held no usable history entry.
var ErrNoEntries = errors.New("no valid history entries found")

// DefaultTitle replaces missing titles.
const DefaultTitle = "No Title"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// nowMillis is replaced in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// rawEntry accepts numbers or strings for the numeric fields.
type rawEntry struct {
	URL           string      `json:"url"`
	Title         string      `json:"title"`
	VisitCount    interface{} `json:"visitCount"`
	LastVisitTime interface{} `json:"lastVisitTime"`
}

type wrapper struct {
	Browser string     `json:"browser"`
	History []rawEntry `json:"history"`
	Entries []rawEntry `json:"entries"`
}

// ParsePayload decodes an extension upload. It accepts, in order, a wrapper
// object with a browser tag and a history (or entries) array, a bare array
// of entry objects, and finally plain "url,title,visitCount,lastVisitTime"
// lines. Lines are tried only when the body is not valid JSON of the first
// two shapes. Entries that are not http(s) are dropped.
func ParsePayload(body []byte, defaultBrowser string) ([]storage.HistoryEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrNoEntries
	}

	var (
		entries []storage.HistoryEntry
		parsed  bool
	)
	switch trimmed[0] {
	case '{':
		var w wrapper
		if err := json.Unmarshal(trimmed, &w); err == nil {
			parsed = true
			browser := NormalizeBrowser(w.Browser, defaultBrowser)
			raw := w.History
			if raw == nil {
				raw = w.Entries
			}
			entries = convert(raw, browser)
		}
	case '[':
		var raw []rawEntry
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			parsed = true
			entries = convert(raw, defaultBrowser)
		}
	}

	if !parsed {
		entries = parseLines(trimmed, defaultBrowser)
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}

// NormalizeBrowser returns tag when it is a supported browser, otherwise
// fallback.
func NormalizeBrowser(tag, fallback string) string {
	for _, b := range config.SupportedBrowsers() {
		if tag == b {
			return tag
		}
	}
	return fallback
}

func convert(raw []rawEntry, browser string) []storage.HistoryEntry {
	out := make([]storage.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		e, ok := newEntry(r.URL, r.Title, visitCountOf(r.VisitCount), timestampOf(r.LastVisitTime), browser)
		if ok {
			out = append(out, e)
		}
	}
	return out
}

func parseLines(body []byte, browser string) []storage.HistoryEntry {
	var out []storage.HistoryEntry
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "{") {
			continue
		}

		r := csv.NewReader(strings.NewReader(line))
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		fields, err := r.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			continue
		}

		field := func(i int) string {
			if i < len(fields) {
				return strings.Trim(strings.TrimSpace(fields[i]), `"`)
			}
			return ""
		}
		var visits, ts interface{}
		if len(fields) > 2 {
			visits = field(2)
		}
		if len(fields) > 3 {
			ts = field(3)
		}
		if e, ok := newEntry(field(0), field(1), visitCountOf(visits), timestampOf(ts), browser); ok {
			out = append(out, e)
		}
	}
	return out
}

func newEntry(rawURL, title string, visits int, ts int64, browser string) (storage.HistoryEntry, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if !IsWebURL(rawURL) {
		return storage.HistoryEntry{}, false
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return storage.HistoryEntry{
		URL:           rawURL,
		Title:         title,
		VisitCount:    visits,
		LastVisitTime: ts,
		Browser:       browser,
	}, true
}

// IsWebURL reports whether u has an http or https scheme.
func IsWebURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// visitCountOf defaults missing or invalid counts to 1.
func visitCountOf(v interface{}) int {
	switch n := v.(type) {
	case float64:
		if n >= 0 && n <= math.MaxInt32 {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i >= 0 {
			return i
		}
	}
	return 1
}

// timestampOf truncates fractional values and defaults missing or invalid
// timestamps to now.
func timestampOf(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		if n > 0 && n < math.MaxInt64 {
			return int64(n)
		}
	case string:
		s := strings.TrimSpace(n)
		if i := strings.IndexByte(s, '.'); i >= 0 {
			s = s[:i]
		}
		if t, err := strconv.ParseInt(s, 10, 64); err == nil && t > 0 {
			return t
		}
	}
	return nowMillis()
}
