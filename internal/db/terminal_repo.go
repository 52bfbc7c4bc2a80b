package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const terminalColumns = `id, run_id, terminal_id, shell, dir, term_rows, term_cols, created_at, closed_at, exited_at, exit_code`

type TerminalRepo struct {
	db *sql.DB
}

func NewTerminalRepo(db *sql.DB) *TerminalRepo {
	return &TerminalRepo{db: db}
}

func (r *TerminalRepo) Create(ctx context.Context, rec *TerminalRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("failed to create terminal record: run id is empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO terminal_history (run_id, terminal_id, shell, dir, term_rows, term_cols, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.RunID, rec.TerminalID, rec.Shell, rec.Dir, rec.Rows, rec.Cols, formatTimestamp(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create terminal record %d: %w", rec.TerminalID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read terminal record id: %w", err)
	}
	rec.ID = id
	return nil
}

// Get returns nil, nil when no record exists.
func (r *TerminalRepo) Get(ctx context.Context, runID string, terminalID uint32) (*TerminalRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+terminalColumns+`
FROM terminal_history
WHERE run_id = ? AND terminal_id = ?
`, runID, terminalID)
	rec, err := scanTerminal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get terminal record %d: %w", terminalID, err)
	}
	return rec, nil
}

// List returns the most recent records first. limit <= 0 means no limit.
func (r *TerminalRepo) List(ctx context.Context, limit int) ([]*TerminalRecord, error) {
	query := `SELECT ` + terminalColumns + ` FROM terminal_history ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal records: %w", err)
	}
	defer rows.Close()

	records := []*TerminalRecord{}
	for rows.Next() {
		rec, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan terminal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating terminal records: %w", err)
	}
	return records, nil
}

// MarkClosed stamps closed_at once; later calls leave the first value.
func (r *TerminalRepo) MarkClosed(ctx context.Context, runID string, terminalID uint32, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE terminal_history SET closed_at = ?
WHERE run_id = ? AND terminal_id = ? AND closed_at IS NULL
`, formatTimestamp(at), runID, terminalID)
	if err != nil {
		return fmt.Errorf("failed to mark terminal %d closed: %w", terminalID, err)
	}
	return nil
}

// MarkExited records the shell's exit. code is nil when the status was
// indeterminate.
func (r *TerminalRepo) MarkExited(ctx context.Context, runID string, terminalID uint32, code *int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE terminal_history SET exited_at = ?, exit_code = ?
WHERE run_id = ? AND terminal_id = ? AND exited_at IS NULL
`, formatTimestamp(at), nullInt(code), runID, terminalID)
	if err != nil {
		return fmt.Errorf("failed to mark terminal %d exited: %w", terminalID, err)
	}
	return nil
}

// CloseRun stamps closed_at on every still-open record of runID.
func (r *TerminalRepo) CloseRun(ctx context.Context, runID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE terminal_history SET closed_at = ?
WHERE run_id = ? AND closed_at IS NULL
`, formatTimestamp(at), runID)
	if err != nil {
		return 0, fmt.Errorf("failed to close run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count closed records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row rowScanner) (*TerminalRecord, error) {
	var rec TerminalRecord
	var createdAtRaw string
	var closedAtRaw, exitedAtRaw sql.NullString
	var exitCode sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.RunID, &rec.TerminalID, &rec.Shell, &rec.Dir, &rec.Rows, &rec.Cols, &createdAtRaw, &closedAtRaw, &exitedAtRaw, &exitCode); err != nil {
		return nil, err
	}

	var err error
	if rec.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if rec.ClosedAt, err = parseNullTimestamp(closedAtRaw); err != nil {
		return nil, err
	}
	if rec.ExitedAt, err = parseNullTimestamp(exitedAtRaw); err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	return &rec, nil
}
