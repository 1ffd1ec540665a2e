package storage

import "database/sql"

// migrateV001 creates the initial schema: history entries, malicious URLs,
// analysis sessions and the settings table. Every statement uses IF NOT
// EXISTS so a database created by an older build is picked up as-is.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS history_entries (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			browser         TEXT NOT NULL DEFAULT '',
			import_time     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(url, last_visit_time)
		)`,

		`CREATE TABLE IF NOT EXISTS analysis_sessions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			session_date      TEXT NOT NULL,
			total_urls        INTEGER NOT NULL DEFAULT 0,
			malicious_count   INTEGER NOT NULL DEFAULT 0,
			scan_duration     INTEGER NOT NULL DEFAULT 0,
			malicious_domains TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'completed'
		)`,

		`CREATE TABLE IF NOT EXISTS malicious_urls (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL UNIQUE,
			domain          TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL DEFAULT '',
			positives       INTEGER NOT NULL DEFAULT 0,
			total           INTEGER NOT NULL DEFAULT 0,
			visit_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			session_id      INTEGER REFERENCES analysis_sessions(id) ON DELETE SET NULL,
			detection_time  TEXT NOT NULL,
			scan_date       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_history_last_visit   ON history_entries(last_visit_time)`,
		`CREATE INDEX IF NOT EXISTS idx_malicious_domain     ON malicious_urls(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_malicious_session    ON malicious_urls(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_malicious_detection  ON malicious_urls(detection_time)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_date        ON analysis_sessions(session_date)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
