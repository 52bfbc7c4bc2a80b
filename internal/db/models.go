package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TerminalRecord is one terminal session as seen by a single server run.
// Terminal ids restart at 1 on every run, so (RunID, TerminalID) is the key.
type TerminalRecord struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"runId"`
	TerminalID uint32     `json:"terminalId"`
	Shell      string     `json:"shell"`
	Dir        string     `json:"dir"`
	Rows       uint16     `json:"rows"`
	Cols       uint16     `json:"cols"`
	CreatedAt  time.Time  `json:"createdAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	ExitedAt   *time.Time `json:"exitedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func parseNullTimestamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	ts, err := parseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
