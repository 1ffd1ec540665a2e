package storage

import "database/sql"

// migrateV002 adds the per-verdict scan log so a session's report can be
// replayed after the run.
func migrateV002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_results (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES analysis_sessions(id) ON DELETE CASCADE,
			url        TEXT NOT NULL,
			verdict    TEXT NOT NULL CHECK (verdict IN ('clean', 'malicious', 'unknown', 'error')),
			positives  INTEGER NOT NULL DEFAULT 0,
			total      INTEGER NOT NULL DEFAULT 0,
			detail     TEXT NOT NULL DEFAULT '',
			scanned_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_results_session ON scan_results(session_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
