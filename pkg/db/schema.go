package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    delimiter TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bars (
    run_id TEXT NOT NULL,
    id INTEGER NOT NULL,
    time INTEGER NOT NULL,
    open REAL NOT NULL,
    high REAL NOT NULL,
    low REAL NOT NULL,
    close REAL NOT NULL,
    volume REAL NOT NULL,
    quote_volume REAL NOT NULL,
    ticks INTEGER NOT NULL,
    volume_delta REAL NOT NULL,
    price_delta REAL NOT NULL,
    cvd REAL NOT NULL,
    poc REAL,
    top_cluster REAL,
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS profiles (
    run_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    vpoc REAL NOT NULL,
    vah REAL NOT NULL,
    val REAL NOT NULL,
    min REAL NOT NULL,
    max REAL NOT NULL,
    total_volume REAL NOT NULL,
    value_area_volume REAL NOT NULL,
    closed_at_price REAL NOT NULL,
    normality REAL NOT NULL,
    degenerate INTEGER DEFAULT 0,
    PRIMARY KEY (run_id, ended_at)
);

CREATE TABLE IF NOT EXISTS price_events (
    run_id TEXT NOT NULL,
    name TEXT NOT NULL,
    time INTEGER NOT NULL,
    price REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
    run_id TEXT NOT NULL,
    id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_time INTEGER NOT NULL,
    entry_price REAL NOT NULL,
    exit_time INTEGER,
    exit_price REAL,
    bet_size REAL NOT NULL,
    risk REAL NOT NULL,
    reward REAL NOT NULL,
    stop_loss REAL NOT NULL,
    take_profit REAL NOT NULL,
    log REAL DEFAULT 0,
    win INTEGER,
    features TEXT,
    PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS streaks (
    run_id TEXT NOT NULL,
    type TEXT NOT NULL,
    from_time INTEGER NOT NULL,
    to_time INTEGER NOT NULL,
    length INTEGER NOT NULL,
    deals TEXT
);

CREATE INDEX IF NOT EXISTS idx_price_events_run ON price_events(run_id, time);
CREATE INDEX IF NOT EXISTS idx_streaks_run ON streaks(run_id, from_time);
`

// ApplyMigrations creates tables when they are missing.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "bars", "absorption", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "runs", "finished_at", "DATETIME"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
