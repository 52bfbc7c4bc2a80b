package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/termdeck/internal/db"
	"github.com/user/termdeck/internal/pty"
)

func newTestRecorder(t *testing.T) (*Recorder, *db.TerminalRepo) {
	t.Helper()
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	repo := db.NewTerminalRepo(database.SQL())
	return NewRecorder(repo, nil), repo
}

func info(id pty.ID) pty.Info {
	return pty.Info{ID: id, Shell: "/bin/sh", Dir: "/tmp", Rows: 24, Cols: 80, CreatedAt: time.Now().UTC()}
}

func TestRecorderLifecycle(t *testing.T) {
	rec, repo := newTestRecorder(t)
	ctx := context.Background()

	rec.Created(info(1))
	code := 0
	rec.TerminalExit(pty.ExitEvent{ID: 1, Code: &code})
	rec.Closed(1)

	got, err := repo.Get(ctx, rec.RunID(), 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("no history row for terminal 1")
	}
	if got.Shell != "/bin/sh" || got.Rows != 24 {
		t.Fatalf("row = %#v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 || got.ClosedAt == nil {
		t.Fatalf("row end state = exit %v closed %v", got.ExitCode, got.ClosedAt)
	}
}

func TestRecorderExitBeforeCreated(t *testing.T) {
	rec, repo := newTestRecorder(t)

	code := 9
	rec.TerminalExit(pty.ExitEvent{ID: 4, Code: &code})
	rec.Created(info(4))

	got, err := repo.Get(context.Background(), rec.RunID(), 4)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.ExitCode == nil || *got.ExitCode != 9 {
		t.Fatalf("row = %#v, want exit code 9", got)
	}
}

func TestRecorderShutdownClosesOpenRows(t *testing.T) {
	rec, _ := newTestRecorder(t)
	ctx := context.Background()

	rec.Created(info(1))
	rec.Created(info(2))
	rec.Closed(1)

	if err := rec.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	rows, err := rec.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("List() len = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.ClosedAt == nil {
			t.Fatalf("terminal %d still open after Shutdown", row.TerminalID)
		}
	}
}

func TestRecorderRunsAreDistinct(t *testing.T) {
	a, _ := newTestRecorder(t)
	b, _ := newTestRecorder(t)
	if a.RunID() == b.RunID() || a.RunID() == "" {
		t.Fatalf("run ids = %q, %q", a.RunID(), b.RunID())
	}
}

func pendingCount(rec *Recorder) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.pending)
}

func TestRecorderDropsExitsWithoutRow(t *testing.T) {
	rec, repo := newTestRecorder(t)
	code := 1

	// Closed before any row was written.
	rec.TerminalExit(pty.ExitEvent{ID: 3, Code: &code})
	rec.Closed(3)
	if n := pendingCount(rec); n != 0 {
		t.Fatalf("pending after Closed = %d, want 0", n)
	}

	// Row insert fails on the (run, terminal) uniqueness constraint.
	if err := repo.Create(context.Background(), &db.TerminalRecord{RunID: rec.RunID(), TerminalID: 6}); err != nil {
		t.Fatalf("repo.Create() error = %v", err)
	}
	rec.TerminalExit(pty.ExitEvent{ID: 6, Code: &code})
	if n := pendingCount(rec); n != 1 {
		t.Fatalf("pending before create = %d, want 1", n)
	}
	rec.Created(info(6))
	if n := pendingCount(rec); n != 0 {
		t.Fatalf("pending after failed create = %d, want 0", n)
	}
}

func TestRecorderPendingExitsAreBounded(t *testing.T) {
	rec, _ := newTestRecorder(t)
	for id := pty.ID(1); id <= maxPendingExits+10; id++ {
		rec.TerminalExit(pty.ExitEvent{ID: id})
	}
	if n := pendingCount(rec); n != maxPendingExits {
		t.Fatalf("pending = %d, want %d", n, maxPendingExits)
	}
}
