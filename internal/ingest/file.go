package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/runnerr0/histscan/internal/storage"
)

// sqliteMagic starts every SQLite database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// FileOptions tune ParseFile.
type FileOptions struct {
	Browser     string
	SQLiteLimit int
}

// ParseFile reads history from a CSV, JSON or Chromium SQLite file. The
// format is taken from the extension and sniffed from the content when the
// extension is not conclusive.
func ParseFile(path string, opts FileOptions) ([]storage.HistoryEntry, error) {
	var (
		entries []storage.HistoryEntry
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		entries, err = parseCSVFile(path, opts.Browser)
	case ".json":
		var data []byte
		data, err = os.ReadFile(path)
		if err == nil {
			entries, err = ParsePayload(data, opts.Browser)
		}
	case ".sqlite", ".db":
		entries, err = ReadChromium(path, opts.Browser, opts.SQLiteLimit)
	default:
		entries, err = sniffAndParse(path, opts)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}

func sniffAndParse(path string, opts FileOptions) ([]storage.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(len(sqliteMagic))
	if bytes.Equal(head, sqliteMagic) {
		return ReadChromium(path, opts.Browser, opts.SQLiteLimit)
	}

	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	lower := strings.ToLower(first)
	trimmed := strings.TrimSpace(first)

	switch {
	case strings.Contains(lower, "url") && strings.Contains(lower, "title") && strings.Contains(lower, ","):
		return parseCSVFile(path, opts.Browser)
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read history file: %w", err)
		}
		return ParsePayload(data, opts.Browser)
	}
	return nil, fmt.Errorf("could not detect the format of %s: use CSV, JSON or a browser History database", filepath.Base(path))
}

// csvColumns holds header positions; -1 when absent.
type csvColumns struct {
	url, title, visitCount, lastVisit int
}

// detectColumns matches header names on normalized substrings so that
// "Last Visit Time" and "last_visit_time" both resolve.
func detectColumns(header []string) csvColumns {
	cols := csvColumns{url: -1, title: -1, visitCount: -1, lastVisit: -1}
	for i, h := range header {
		name := normalizeHeader(h)
		switch {
		case strings.Contains(name, "visitcount"):
			cols.visitCount = i
		case strings.Contains(name, "lastvisittime"):
			cols.lastVisit = i
		case strings.Contains(name, "url"):
			cols.url = i
		case strings.Contains(name, "title") || strings.Contains(name, "name"):
			cols.title = i
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseCSVFile(path, browser string) ([]storage.HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f, browser)
}

func parseCSV(r io.Reader, browser string) ([]storage.HistoryEntry, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoEntries
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := detectColumns(header)
	if cols.url < 0 {
		return nil, fmt.Errorf("csv header has no url column")
	}

	var out []storage.HistoryEntry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		get := func(i int) (string, bool) {
			if i < 0 || i >= len(rec) {
				return "", false
			}
			return strings.Trim(strings.TrimSpace(rec[i]), `"`), true
		}

		u, _ := get(cols.url)
		title, _ := get(cols.title)
		var visits, ts interface{}
		if v, ok := get(cols.visitCount); ok {
			visits = v
		}
		if v, ok := get(cols.lastVisit); ok {
			ts = v
		}
		if e, ok := newEntry(u, title, visitCountOf(visits), timestampOf(ts), browser); ok {
			out = append(out, e)
		}
	}
	return out, nil
}
