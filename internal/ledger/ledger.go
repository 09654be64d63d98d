//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package ledger records batch runs, extraction watermarks, and
// quarantined events in a local SQLite database. The ledger is the
// pipeline's own bookkeeping and lives outside the warehouse.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sialkot-labs/bazaar-etl/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// Batch run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// FactStream is the watermark name for the sale event stream. Entity
// watermarks use the entity type name.
const FactStream = "facts"

// Timestamps are stored as RFC 3339 text so round-trips do not depend
// on driver-specific time handling.
const createLedgerSQL = `
CREATE TABLE IF NOT EXISTS batch_runs (
    run_id      TEXT PRIMARY KEY,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    summary     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS watermarks (
    name       TEXT PRIMARY KEY,
    watermark  TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quarantine (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL,
    event_id       TEXT NOT NULL,
    order_id       TEXT NOT NULL,
    business_date  TEXT NOT NULL,
    reason         TEXT NOT NULL,
    quarantined_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quarantine_run ON quarantine(run_id);
`

// Run is one recorded batch execution.
type Run struct {
	ID         string
	Mode       string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Summary    string
}

// QuarantineRow is one rejected sale event held for manual review.
type QuarantineRow struct {
	ID            int64
	RunID         string
	EventID       string
	OrderID       string
	BusinessDate  time.Time
	Reason        string
	QuarantinedAt time.Time
}

// Ledger wraps the SQLite bookkeeping database.
type Ledger struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}
	// One batch writes at a time; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createLedgerSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db, log: logging.Component("ledger")}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records the start of a batch and returns its run id.
func (l *Ledger) BeginRun(ctx context.Context, mode string) (string, error) {
	runID := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO batch_runs (run_id, mode, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, mode, StatusRunning, formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to record batch start: %w", err)
	}
	return runID, nil
}

// CompleteRun finalizes a batch run with its status and summary.
func (l *Ledger) CompleteRun(ctx context.Context, runID, status, summary string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, finished_at = ?, summary = ? WHERE run_id = ?`,
		status, formatTime(time.Now()), summary, runID)
	if err != nil {
		return fmt.Errorf("failed to record batch completion: %w", err)
	}
	return nil
}

// Runs returns the most recent batch runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, mode, status, started_at, finished_at, summary
		 FROM batch_runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.Mode, &run.Status, &started, &finished, &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Watermark returns the stored watermark, or the zero time when none
// has been recorded yet.
func (l *Ledger) Watermark(ctx context.Context, name string) (time.Time, error) {
	var stored string
	err := l.db.QueryRowContext(ctx,
		`SELECT watermark FROM watermarks WHERE name = ?`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark %s: %w", name, err)
	}
	return parseTime(stored)
}

// SetWatermark advances the named watermark.
func (l *Ledger) SetWatermark(ctx context.Context, name string, watermark time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO watermarks (name, watermark, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at`,
		name, formatTime(watermark), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set watermark %s: %w", name, err)
	}
	l.log.Debug().Str("name", name).Time("watermark", watermark).Msg("Watermark advanced")
	return nil
}

// Watermarks returns every stored watermark by name.
func (l *Ledger) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name, watermark FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermarks: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]time.Time)
	for rows.Next() {
		var name, stored string
		if err := rows.Scan(&name, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		if marks[name], err = parseTime(stored); err != nil {
			return nil, err
		}
	}
	return marks, rows.Err()
}

// AddQuarantined records rejected events against the run that saw them.
func (l *Ledger) AddQuarantined(ctx context.Context, runID string, rows []QuarantineRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin quarantine insert: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, row := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO quarantine (run_id, event_id, order_id, business_date, reason, quarantined_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, row.EventID, row.OrderID, formatTime(row.BusinessDate), row.Reason, now)
		if err != nil {
			return fmt.Errorf("failed to record quarantined event %s: %w", row.EventID, err)
		}
	}
	return tx.Commit()
}

// Quarantined returns the most recently quarantined events, newest
// first.
func (l *Ledger) Quarantined(ctx context.Context, limit int) ([]QuarantineRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, event_id, order_id, business_date, reason, quarantined_at
		 FROM quarantine ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine: %w", err)
	}
	defer rows.Close()

	var out []QuarantineRow
	for rows.Next() {
		var row QuarantineRow
		var businessDate, quarantinedAt string
		if err := rows.Scan(&row.ID, &row.RunID, &row.EventID, &row.OrderID,
			&businessDate, &row.Reason, &quarantinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine row: %w", err)
		}
		if row.BusinessDate, err = parseTime(businessDate); err != nil {
			return nil, err
		}
		if row.QuarantinedAt, err = parseTime(quarantinedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QuarantineCount returns the total number of quarantined events.
func (l *Ledger) QuarantineCount(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count quarantine: %w", err)
	}
	return count, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed ledger timestamp %q: %w", s, err)
	}
	return t, nil
}
