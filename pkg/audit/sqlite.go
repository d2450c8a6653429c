package audit

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	kind           TEXT NOT NULL,
	plan_id        TEXT,
	step_id        TEXT,
	strategy_used  TEXT,
	status         TEXT,
	error_kind     TEXT,
	gate           TEXT,
	decision       TEXT,
	reason         TEXT,
	screenshot_ref TEXT,
	timestamp_ms   INTEGER NOT NULL
);`

// SQLiteRecorder persists records in a local database file, for setups where
// the trail must survive process restarts and be queryable by outside tools.
type SQLiteRecorder struct {
	db *sql.DB
}

func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database %q: %w", path, err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func (sr *SQLiteRecorder) Append(rec Record) error {
	rec = rec.Stamp()
	_, err := sr.db.Exec(
		`INSERT INTO audit_records
		 (kind, plan_id, step_id, strategy_used, status, error_kind, gate, decision, reason, screenshot_ref, timestamp_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.PlanID, rec.StepID, rec.StrategyUsed, rec.Status,
		rec.ErrorKind, rec.Gate, rec.Decision, rec.Reason, rec.ScreenshotRef, rec.TimestampMs,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

func (sr *SQLiteRecorder) Close() error {
	return sr.db.Close()
}
