package ingest

import (
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/histscan/internal/storage"
)

// DefaultSQLiteLimit is how many of the newest URLs are read from a
// browser database.
const DefaultSQLiteLimit = 100

// webkitEpochOffsetMS is the distance between 1601-01-01 and 1970-01-01.
const webkitEpochOffsetMS = 11644473600000

// WebKitToUnixMillis converts a Chromium timestamp (microseconds since
// 1601) to epoch milliseconds. Non-positive input maps to 0.
func WebKitToUnixMillis(us int64) int64 {
	if us <= 0 {
		return 0
	}
	ms := us/1000 - webkitEpochOffsetMS
	if ms < 0 {
		return 0
	}
	return ms
}

// ReadChromium reads the newest limit rows of a Chromium History database.
func ReadChromium(path, browser string, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSQLiteLimit
	}

	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT url, title, visit_count, last_visit_time
		FROM urls
		ORDER BY last_visit_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history database: %w", err)
	}
	defer rows.Close()

	var out []storage.HistoryEntry
	for rows.Next() {
		var (
			u      string
			title  sql.NullString
			visits int
			last   int64
		)
		if err := rows.Scan(&u, &title, &visits, &last); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e, ok := newEntry(u, title.String, visits, WebKitToUnixMillis(last), browser); ok {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history database: %w", err)
	}
	return out, nil
}

// readOnlyDSN builds a read-only SQLite URI for path, escaping characters
// such as '?' and '#' that the URI syntax reserves.
func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve history database path: %w", err)
	}
	p := filepath.ToSlash(abs)
	if p[0] != '/' {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}).String(), nil
}

// ProfileHistoryPath returns the default-profile History database of a
// supported browser for the running OS.
func ProfileHistoryPath(browser string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return profileHistoryPath(browser, runtime.GOOS, home)
}

func profileHistoryPath(browser, goos, home string) (string, error) {
	type layout struct{ windows, darwin, linux []string }
	layouts := map[string]layout{
		"Google Chrome": {
			windows: []string{"AppData", "Local", "Google", "Chrome", "User Data"},
			darwin:  []string{"Library", "Application Support", "Google", "Chrome"},
			linux:   []string{".config", "google-chrome"},
		},
		"Brave": {
			windows: []string{"AppData", "Local", "BraveSoftware", "Brave-Browser", "User Data"},
			darwin:  []string{"Library", "Application Support", "BraveSoftware", "Brave-Browser"},
			linux:   []string{".config", "BraveSoftware", "Brave-Browser"},
		},
		"Microsoft Edge": {
			windows: []string{"AppData", "Local", "Microsoft", "Edge", "User Data"},
			darwin:  []string{"Library", "Application Support", "Microsoft Edge"},
			linux:   []string{".config", "microsoft-edge"},
		},
	}

	l, ok := layouts[browser]
	if !ok {
		return "", fmt.Errorf("unsupported browser %q", browser)
	}
	var parts []string
	switch goos {
	case "windows":
		parts = l.windows
	case "darwin":
		parts = l.darwin
	default:
		parts = l.linux
	}
	elems := append([]string{home}, parts...)
	elems = append(elems, "Default", "History")
	return filepath.Join(elems...), nil
}

// LocalHistory reads the browser's own History database. The browser keeps
// the file locked while running, so a temporary copy is read instead.
func LocalHistory(browser string, limit int) ([]storage.HistoryEntry, error) {
	path, err := ProfileHistoryPath(browser)
	if err != nil {
		return nil, err
	}
	return readCopy(path, browser, limit)
}

func readCopy(path, browser string, limit int) ([]storage.HistoryEntry, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", browser, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "histscan-*.sqlite")
	if err != nil {
		return nil, fmt.Errorf("create temp copy: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("copy %s history: %w", browser, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("copy %s history: %w", browser, err)
	}

	return ReadChromium(tmp.Name(), browser, limit)
}
