// Package history persists terminal lifecycles to the local database so the
// GUI can show sessions from earlier runs.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/termdeck/internal/db"
	"github.com/user/termdeck/internal/pty"
)

const (
	writeTimeout = 5 * time.Second
	// maxPendingExits bounds exits held for rows that may never be written.
	maxPendingExits = 256
)

type pendingExit struct {
	code *int
	at   time.Time
}

// Recorder writes one history row per terminal of this run. It is a
// pty.EventSink for exit events; creation and close are reported by the
// caller that performs them.
type Recorder struct {
	repo   *db.TerminalRepo
	runID  string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	known   map[pty.ID]struct{}
	pending map[pty.ID]pendingExit
}

func NewRecorder(repo *db.TerminalRepo, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:    repo,
		runID:   uuid.NewString(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		known:   make(map[pty.ID]struct{}),
		pending: make(map[pty.ID]pendingExit),
	}
}

// RunID identifies this server run in the history table.
func (r *Recorder) RunID() string {
	return r.runID
}

// Created inserts the row for a new terminal. An exit that was reported
// before the row existed is applied right after the insert.
func (r *Recorder) Created(info pty.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &db.TerminalRecord{
		RunID:      r.runID,
		TerminalID: uint32(info.ID),
		Shell:      info.Shell,
		Dir:        info.Dir,
		Rows:       info.Rows,
		Cols:       info.Cols,
		CreatedAt:  info.CreatedAt,
	}
	if err := r.repo.Create(ctx, rec); err != nil {
		delete(r.pending, info.ID)
		r.logger.Warn("history: record create failed", "id", info.ID, "error", err)
		return
	}
	r.known[info.ID] = struct{}{}

	if exit, ok := r.pending[info.ID]; ok {
		delete(r.pending, info.ID)
		r.markExited(ctx, info.ID, exit)
	}
}

// Closed stamps the terminal's row as closed. An exit still waiting for a
// row that was never written is dropped.
func (r *Recorder) Closed(id pty.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()

	if err := r.repo.MarkClosed(ctx, r.runID, uint32(id), r.now()); err != nil {
		r.logger.Warn("history: record close failed", "id", id, "error", err)
	}
}

func (r *Recorder) TerminalOutput(pty.OutputEvent) {}

func (r *Recorder) TerminalExit(ev pty.ExitEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	exit := pendingExit{code: ev.Code, at: r.now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.known[ev.ID]; !ok {
		if len(r.pending) >= maxPendingExits {
			r.logger.Warn("history: dropping exit for unrecorded terminal", "id", ev.ID)
			return
		}
		r.pending[ev.ID] = exit
		return
	}
	r.markExited(ctx, ev.ID, exit)
}

func (r *Recorder) markExited(ctx context.Context, id pty.ID, exit pendingExit) {
	if err := r.repo.MarkExited(ctx, r.runID, uint32(id), exit.code, exit.at); err != nil {
		r.logger.Warn("history: record exit failed", "id", id, "error", err)
	}
}

// List returns recent records across all runs, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]*db.TerminalRecord, error) {
	return r.repo.List(ctx, limit)
}

// Shutdown marks every terminal of this run that is still open as closed.
func (r *Recorder) Shutdown(ctx context.Context) error {
	n, err := r.repo.CloseRun(ctx, r.runID, r.now())
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("history: closed open terminals", "count", n)
	}
	return nil
}
