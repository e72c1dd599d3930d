// Package store provides the Persistent State Store: an atomically-written
// JSON document for high-churn state (internal/store/document.go) and a
// SQLite-backed relational database for append-heavy history (this file).
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the relational half of the Persistent State Store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS revenue_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	collected_at DATETIME NOT NULL DEFAULT (datetime('now')),
	balance_atomic INTEGER,
	price_usd REAL,
	hashrate_hs REAL,
	request_count INTEGER
);

CREATE TABLE IF NOT EXISTS trust_summary (
	level INTEGER PRIMARY KEY,
	total_sessions INTEGER NOT NULL DEFAULT 0,
	total_evaluations INTEGER NOT NULL DEFAULT 0,
	sum_eval_scores INTEGER NOT NULL DEFAULT 0,
	first_entered_at DATETIME,
	last_entered_at DATETIME,
	total_days REAL NOT NULL DEFAULT 0,
	promotion_sent_at DATETIME
);

CREATE TABLE IF NOT EXISTS reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	fire_at DATETIME NOT NULL,
	source_message TEXT NOT NULL DEFAULT '',
	fired BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS session_evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	project_name TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	stopped_at DATETIME NOT NULL,
	duration_minutes REAL NOT NULL DEFAULT 0,
	commit_count INTEGER NOT NULL DEFAULT 0,
	insertions INTEGER NOT NULL DEFAULT 0,
	deletions INTEGER NOT NULL DEFAULT 0,
	files_changed INTEGER NOT NULL DEFAULT 0,
	score INTEGER NOT NULL DEFAULT 0,
	recommendation TEXT NOT NULL DEFAULT '',
	prompt_snippet TEXT NOT NULL DEFAULT '',
	prompt_style TEXT NOT NULL DEFAULT '',
	evaluated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS conversation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	ts DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_revenue_source_time ON revenue_snapshots(source, collected_at);
CREATE INDEX IF NOT EXISTS idx_reminders_fired_fireat ON reminders(fired, fire_at);
CREATE INDEX IF NOT EXISTS idx_session_evaluations_project ON session_evaluations(project_name);
CREATE INDEX IF NOT EXISTS idx_session_evaluations_score ON session_evaluations(score);
CREATE INDEX IF NOT EXISTS idx_conversation_ts ON conversation(ts);
`

// seedTrustLevels seeds the four trust_summary rows (one per autonomy
// level) that the Trust Tracker reads and updates in place.
const seedTrustLevels = `
INSERT OR IGNORE INTO trust_summary (level, first_entered_at, last_entered_at) VALUES
	(0, datetime('now'), datetime('now')),
	(1, datetime('now'), datetime('now')),
	(2, datetime('now'), datetime('now')),
	(3, datetime('now'), datetime('now'));
`

// Open creates or opens a SQLite database at dbPath and ensures the schema
// exists, with write-ahead logging enabled for concurrent readers across
// the Scan Loop and Think Loop.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	if _, err := db.Exec(seedTrustLevels); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: seed trust_summary: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
