package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSessionNotFound is returned by GetSession for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// historyBatchSize bounds the rows written per transaction in AppendHistory.
const historyBatchSize = 500

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// domainSeparator joins a session's malicious domains into one column.
const domainSeparator = ", "

// Store defines the persistence operations used by the scanner and the
// ingress surfaces. Implementations never fail loudly when storage is
// unavailable: writes become no-ops and reads return empty results.
type Store interface {
	AppendHistory(ctx context.Context, entries []HistoryEntry) int64
	ListHistory(ctx context.Context) []HistoryEntry

	RecordMalicious(ctx context.Context, rec *MaliciousRecord) bool
	ListMalicious(ctx context.Context) []MaliciousRecord
	MaliciousForSession(ctx context.Context, sessionID int64) []MaliciousRecord

	OpenSession(ctx context.Context, totalURLs, maliciousCount int, durationSeconds int64, domains []string) int64
	ReserveSession(ctx context.Context, totalURLs int) int64
	CompleteSession(ctx context.Context, id int64, maliciousCount int, durationSeconds int64, domains []string, status string) bool
	GetSession(ctx context.Context, id int64) (*Session, error)
	ListSessions(ctx context.Context) []Session

	RecordScanResult(ctx context.Context, r *ScanResult) bool
	ScanResults(ctx context.Context, sessionID int64) []ScanResult

	GetSetting(ctx context.Context, key string) (string, bool)
	SetSetting(ctx context.Context, key, value string) bool
	APIKey(ctx context.Context) string
	SaveAPIKey(ctx context.Context, key string) bool

	PurgeAll(ctx context.Context) error
	Stats(ctx context.Context) Stats
	Available() bool
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database. A SQLiteStore
// without a database runs in memory-only mode.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
	logger *log.Logger

	// Prepared statements
	insertHistory    *sql.Stmt
	upsertMalicious  *sql.Stmt
	insertScanResult *sql.Stmt
	getSetting       *sql.Stmt
	setSetting       *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB, logger *log.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: orDiscard(logger)}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// Unavailable returns a store in memory-only mode.
func Unavailable(logger *log.Logger) *SQLiteStore {
	return &SQLiteStore{logger: orDiscard(logger)}
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard)
	}
	return logger
}

// Open opens (creating if needed) the database at path, applies migrations
// and returns the store. It never fails: on any error the problem is logged
// and a memory-only store is returned instead.
func Open(path string, busyTimeoutMS int, logger *log.Logger) *SQLiteStore {
	logger = orDiscard(logger)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn("storage unavailable, running in memory-only mode", "path", path, "err", err)
			return Unavailable(logger)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		logger.Warn("storage unavailable, running in memory-only mode", "path", path, "err", err)
		return Unavailable(logger)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		logger.Warn("storage unavailable, running in memory-only mode", "path", path, "err", err)
		return Unavailable(logger)
	}

	runner := NewMigrationRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		logger.Warn("storage migrations failed, running in memory-only mode", "path", path, "err", err)
		return Unavailable(logger)
	}
	if v, err := runner.Version(); err == nil && v != runner.Latest() {
		logger.Warn("database schema is newer than this build", "path", path, "schema", v, "supported", runner.Latest())
	}

	s, err := NewSQLiteStore(db, logger)
	if err != nil {
		db.Close()
		logger.Warn("storage unavailable, running in memory-only mode", "path", path, "err", err)
		return Unavailable(logger)
	}
	s.ownsDB = true

	logger.Debug("storage opened", "path", path)
	return s
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertHistory, err = s.db.Prepare(`
		INSERT OR IGNORE INTO history_entries (url, title, visit_count, last_visit_time, browser)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.upsertMalicious, err = s.db.Prepare(`
		INSERT INTO malicious_urls (url, domain, title, positives, total, visit_count, last_visit_time, session_id, detection_time, scan_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			domain          = excluded.domain,
			title           = excluded.title,
			positives       = excluded.positives,
			total           = excluded.total,
			visit_count     = excluded.visit_count,
			last_visit_time = excluded.last_visit_time,
			session_id      = excluded.session_id,
			detection_time  = excluded.detection_time,
			scan_date       = excluded.scan_date
	`)
	if err != nil {
		return err
	}

	s.insertScanResult, err = s.db.Prepare(`
		INSERT INTO scan_results (session_id, url, verdict, positives, total, detail, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getSetting, err = s.db.Prepare(`SELECT value FROM settings WHERE key = ?`)
	if err != nil {
		return err
	}

	s.setSetting, err = s.db.Prepare(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}

	return nil
}

// Available reports whether the store is backed by a database.
func (s *SQLiteStore) Available() bool {
	return s != nil && s.db != nil
}

// DB exposes the underlying handle; nil in memory-only mode.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

func nullableSession(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func joinDomains(domains []string) string {
	return strings.Join(domains, domainSeparator)
}

func splitDomains(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, domainSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AppendHistory inserts entries, ignoring any (url, last_visit_time) pair
// that is already stored. Rows are written in batched transactions. It
// returns the number of new rows.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entries []HistoryEntry) int64 {
	if !s.Available() || len(entries) == 0 {
		return 0
	}

	var written int64
	for start := 0; start < len(entries); start += historyBatchSize {
		end := start + historyBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		n, err := s.appendHistoryBatch(ctx, entries[start:end])
		if err != nil {
			s.logger.Error("saving history entries", "err", err, "batch_start", start)
			break
		}
		written += n
	}

	s.logger.Info("history entries saved", "received", len(entries), "written", written)
	return written
}

func (s *SQLiteStore) appendHistoryBatch(ctx context.Context, batch []HistoryEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.insertHistory)
	var written int64
	for _, e := range batch {
		res, err := stmt.ExecContext(ctx, e.URL, e.Title, e.VisitCount, e.LastVisitTime, e.Browser)
		if err != nil {
			return 0, fmt.Errorf("insert history entry: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit history batch: %w", err)
	}
	return written, nil
}

// ListHistory returns all history entries, most recent visit first.
func (s *SQLiteStore) ListHistory(ctx context.Context) []HistoryEntry {
	entries := []HistoryEntry{}
	if !s.Available() {
		return entries
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, title, visit_count, last_visit_time, browser
		FROM history_entries
		ORDER BY last_visit_time DESC, id DESC
	`)
	if err != nil {
		s.logger.Error("listing history", "err", err)
		return entries
	}
	defer rows.Close()

	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.URL, &e.Title, &e.VisitCount, &e.LastVisitTime, &e.Browser); err != nil {
			s.logger.Error("scanning history row", "err", err)
			return entries
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("listing history", "err", err)
	}
	return entries
}

// RecordMalicious stores rec, replacing any earlier record for the same URL.
// Domain and zero timestamps are filled in. Failures are logged and reported
// as false.
func (s *SQLiteStore) RecordMalicious(ctx context.Context, rec *MaliciousRecord) bool {
	if !s.Available() {
		return false
	}

	rec.Domain = DeriveDomain(rec.URL)
	if rec.DetectionTime.IsZero() {
		rec.DetectionTime = time.Now()
	}
	if rec.ScanDate.IsZero() {
		rec.ScanDate = rec.DetectionTime
	}

	_, err := s.upsertMalicious.ExecContext(ctx,
		rec.URL, rec.Domain, rec.Title, rec.Positives, rec.Total,
		rec.VisitCount, rec.LastVisitTime, nullableSession(rec.SessionID),
		formatTime(rec.DetectionTime), formatTime(rec.ScanDate),
	)
	if err != nil {
		s.logger.Error("saving malicious url", "url", rec.URL, "err", err)
		return false
	}
	return true
}

const maliciousColumns = `url, domain, title, positives, total, visit_count, last_visit_time,
	COALESCE(session_id, -1), detection_time, scan_date`

// ListMalicious returns every malicious record, most recent detection first.
func (s *SQLiteStore) ListMalicious(ctx context.Context) []MaliciousRecord {
	return s.queryMalicious(ctx,
		"SELECT "+maliciousColumns+" FROM malicious_urls ORDER BY detection_time DESC, id DESC")
}

// MaliciousForSession returns the records currently linked to a session.
func (s *SQLiteStore) MaliciousForSession(ctx context.Context, sessionID int64) []MaliciousRecord {
	return s.queryMalicious(ctx,
		"SELECT "+maliciousColumns+" FROM malicious_urls WHERE session_id = ? ORDER BY detection_time DESC, id DESC",
		sessionID)
}

func (s *SQLiteStore) queryMalicious(ctx context.Context, query string, args ...interface{}) []MaliciousRecord {
	records := []MaliciousRecord{}
	if !s.Available() {
		return records
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("listing malicious urls", "err", err)
		return records
	}
	defer rows.Close()

	for rows.Next() {
		var r MaliciousRecord
		var detected, scanned string
		if err := rows.Scan(
			&r.URL, &r.Domain, &r.Title, &r.Positives, &r.Total,
			&r.VisitCount, &r.LastVisitTime, &r.SessionID, &detected, &scanned,
		); err != nil {
			s.logger.Error("scanning malicious row", "err", err)
			return records
		}
		r.DetectionTime, _ = parseTimestamp(detected)
		r.ScanDate, _ = parseTimestamp(scanned)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("listing malicious urls", "err", err)
	}
	return records
}

// OpenSession inserts a completed session and returns its id, or -1 when
// storage is unavailable or the insert fails.
func (s *SQLiteStore) OpenSession(ctx context.Context, totalURLs, maliciousCount int, durationSeconds int64, domains []string) int64 {
	return s.insertSession(ctx, totalURLs, maliciousCount, durationSeconds, domains, SessionCompleted)
}

// ReserveSession inserts a running session before any verdict is recorded so
// that malicious records can reference it. Returns -1 on failure.
func (s *SQLiteStore) ReserveSession(ctx context.Context, totalURLs int) int64 {
	return s.insertSession(ctx, totalURLs, 0, 0, nil, SessionRunning)
}

func (s *SQLiteStore) insertSession(ctx context.Context, totalURLs, maliciousCount int, durationSeconds int64, domains []string, status string) int64 {
	if !s.Available() {
		s.logger.Debug("storage unavailable, session not saved")
		return -1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_sessions (session_date, total_urls, malicious_count, scan_duration, malicious_domains, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, formatTime(time.Now()), totalURLs, maliciousCount, durationSeconds, joinDomains(domains), status)
	if err != nil {
		s.logger.Error("saving analysis session", "err", err)
		return -1
	}

	id, err := res.LastInsertId()
	if err != nil {
		s.logger.Error("reading session id", "err", err)
		return -1
	}
	return id
}

// CompleteSession closes a reserved session with the run's final numbers.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id int64, maliciousCount int, durationSeconds int64, domains []string, status string) bool {
	if !s.Available() || id <= 0 {
		return false
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_sessions
		SET malicious_count = ?, scan_duration = ?, malicious_domains = ?, status = ?
		WHERE id = ?
	`, maliciousCount, durationSeconds, joinDomains(domains), status, id)
	if err != nil {
		s.logger.Error("completing analysis session", "id", id, "err", err)
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n == 1
}

const sessionColumns = `id, session_date, total_urls, malicious_count, scan_duration, malicious_domains, status`

func scanSession(scan func(dest ...interface{}) error) (Session, error) {
	var sess Session
	var date, domains string
	if err := scan(&sess.ID, &date, &sess.TotalURLs, &sess.MaliciousCount,
		&sess.ScanDurationSeconds, &domains, &sess.Status); err != nil {
		return sess, err
	}
	sess.SessionDate, _ = parseTimestamp(date)
	sess.MaliciousDomains = splitDomains(domains)
	return sess, nil
}

// GetSession retrieves a single session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	if !s.Available() {
		return nil, ErrSessionNotFound
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM analysis_sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) []Session {
	sessions := []Session{}
	if !s.Available() {
		return sessions
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM analysis_sessions ORDER BY id DESC")
	if err != nil {
		s.logger.Error("listing sessions", "err", err)
		return sessions
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			s.logger.Error("scanning session row", "err", err)
			return sessions
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("listing sessions", "err", err)
	}
	return sessions
}

// RecordScanResult appends one verdict line to a session's report.
func (s *SQLiteStore) RecordScanResult(ctx context.Context, r *ScanResult) bool {
	if !s.Available() || r.SessionID <= 0 {
		return false
	}
	if r.ScannedAt.IsZero() {
		r.ScannedAt = time.Now()
	}

	_, err := s.insertScanResult.ExecContext(ctx,
		r.SessionID, r.URL, r.Verdict, r.Positives, r.Total, r.Detail, formatTime(r.ScannedAt),
	)
	if err != nil {
		s.logger.Error("saving scan result", "url", r.URL, "err", err)
		return false
	}
	return true
}

// ScanResults returns a session's verdicts in the order they were produced.
func (s *SQLiteStore) ScanResults(ctx context.Context, sessionID int64) []ScanResult {
	results := []ScanResult{}
	if !s.Available() {
		return results
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, url, verdict, positives, total, detail, scanned_at
		FROM scan_results WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		s.logger.Error("listing scan results", "session", sessionID, "err", err)
		return results
	}
	defer rows.Close()

	for rows.Next() {
		var r ScanResult
		var ts string
		if err := rows.Scan(&r.SessionID, &r.URL, &r.Verdict, &r.Positives, &r.Total, &r.Detail, &ts); err != nil {
			s.logger.Error("scanning scan result row", "err", err)
			return results
		}
		r.ScannedAt, _ = parseTimestamp(ts)
		results = append(results, r)
	}
	return results
}

// GetSetting returns a stored setting and whether it exists.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool) {
	if !s.Available() {
		return "", false
	}

	var value string
	err := s.getSetting.QueryRowContext(ctx, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("reading setting", "key", key, "err", err)
		}
		return "", false
	}
	return value, true
}

// SetSetting stores or replaces a setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) bool {
	if !s.Available() {
		return false
	}

	if _, err := s.setSetting.ExecContext(ctx, key, value); err != nil {
		s.logger.Error("saving setting", "key", key, "err", err)
		return false
	}
	return true
}

// APIKey returns the stored VirusTotal key, or "" when none is set.
func (s *SQLiteStore) APIKey(ctx context.Context) string {
	v, _ := s.GetSetting(ctx, SettingAPIKey)
	return strings.TrimSpace(v)
}

// SaveAPIKey stores the VirusTotal key.
func (s *SQLiteStore) SaveAPIKey(ctx context.Context, key string) bool {
	return s.SetSetting(ctx, SettingAPIKey, strings.TrimSpace(key))
}

// PurgeAll deletes history, malicious records, sessions and scan results.
// Settings (the API key) are kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	if !s.Available() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		"DELETE FROM scan_results",
		"DELETE FROM malicious_urls",
		"DELETE FROM analysis_sessions",
		"DELETE FROM history_entries",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	s.logger.Info("purged all history, malicious records and sessions")
	return nil
}

// Stats returns collection counts; zero counts when unavailable.
func (s *SQLiteStore) Stats(ctx context.Context) Stats {
	var stats Stats
	if !s.Available() {
		return stats
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM history_entries", &stats.HistoryCount},
		{"SELECT COUNT(*) FROM malicious_urls", &stats.MaliciousCount},
		{"SELECT COUNT(*) FROM analysis_sessions", &stats.SessionCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			s.logger.Error("counting rows", "query", c.query, "err", err)
		}
	}
	return stats
}

// Close releases all prepared statements. The underlying *sql.DB is closed
// only when the store opened it itself.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertHistory, s.upsertMalicious, s.insertScanResult,
		s.getSetting, s.setSetting,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
