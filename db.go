package main

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		mode        TEXT NOT NULL,
		dry_run     INTEGER NOT NULL DEFAULT 0,
		total       INTEGER NOT NULL DEFAULT 0,
		updated     INTEGER NOT NULL DEFAULT 0,
		skipped     INTEGER NOT NULL DEFAULT 0,
		errors      INTEGER NOT NULL DEFAULT 0,
		stopped     INTEGER NOT NULL DEFAULT 0,
		started_at  DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_tickets (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        INTEGER NOT NULL,
		ticket_id     INTEGER NOT NULL,
		outcome       TEXT NOT NULL,
		reason        TEXT DEFAULT '',
		notes_deleted INTEGER DEFAULT 0,
		delete_errors TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_run_tickets_run ON run_tickets(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_tickets_ticket ON run_tickets(ticket_id);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, err
	}

	return db, nil
}

// RecordRun persists a run's tally and its per-ticket outcomes. Auditing
// a dry run against the later live run is the main use: the rows make a
// dangling deletion (delete succeeded, create failed) visible.
func RecordRun(db *sql.DB, result RunResult, startedAt, finishedAt time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO runs (mode, dry_run, total, updated, skipped, errors, stopped, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Mode, boolToInt(result.DryRun), result.Total, result.Updated,
		result.Skipped, result.Errors, boolToInt(result.Stopped), startedAt, finishedAt,
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO run_tickets (run_id, ticket_id, outcome, reason, notes_deleted, delete_errors)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range result.Tickets {
		_, err := stmt.Exec(runID, t.TicketID, string(t.Outcome), t.Reason,
			t.NotesDeleted, strings.Join(t.DeleteErrors, "; "))
		if err != nil {
			return 0, err
		}
	}

	return runID, tx.Commit()
}

// RunRecord is one row of the run history, as exposed to the web layer.
type RunRecord struct {
	ID         int64     `json:"id"`
	Mode       string    `json:"mode"`
	DryRun     bool      `json:"dry_run"`
	Total      int       `json:"total"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Stopped    bool      `json:"stopped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ListRecentRuns returns the most recent runs, newest first.
func ListRecentRuns(db *sql.DB, limit int) ([]RunRecord, error) {
	rows, err := db.Query(
		`SELECT id, mode, dry_run, total, updated, skipped, errors, stopped, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var dryRun, stopped int
		err := rows.Scan(&r.ID, &r.Mode, &dryRun, &r.Total, &r.Updated,
			&r.Skipped, &r.Errors, &stopped, &r.StartedAt, &r.FinishedAt)
		if err != nil {
			return nil, err
		}
		r.DryRun = dryRun != 0
		r.Stopped = stopped != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// TicketOutcomesForRun returns the per-ticket rows of one run in insert order.
func TicketOutcomesForRun(db *sql.DB, runID int64) ([]TicketOutcome, error) {
	rows, err := db.Query(
		`SELECT ticket_id, outcome, reason, notes_deleted, delete_errors
		 FROM run_tickets WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []TicketOutcome
	for rows.Next() {
		var t TicketOutcome
		var outcome, deleteErrors string
		if err := rows.Scan(&t.TicketID, &outcome, &t.Reason, &t.NotesDeleted, &deleteErrors); err != nil {
			return nil, err
		}
		t.Outcome = Outcome(outcome)
		if deleteErrors != "" {
			t.DeleteErrors = strings.Split(deleteErrors, "; ")
		}
		outcomes = append(outcomes, t)
	}
	return outcomes, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
