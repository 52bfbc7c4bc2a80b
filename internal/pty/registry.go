package pty

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultShell is spawned when neither Options.Shell nor $SHELL is set.
const DefaultShell = "/bin/bash"

// DefaultShellArgs start the shell as a login shell so profile files are read.
var DefaultShellArgs = []string{"-l"}

// Options configures a Registry.
type Options struct {
	// Shell overrides $SHELL when non-empty.
	Shell string
	// ShellArgs are passed to the shell verbatim. Nil means DefaultShellArgs.
	ShellArgs []string
	// Term, when set, is exported to the shell as TERM.
	Term string
	// ScrollbackSize is the per-session scrollback capacity in bytes.
	ScrollbackSize int
	Logger         *slog.Logger
}

// Registry is the table of live terminal sessions. A single mutex guards the
// map and the id counter; it is never held across PTY I/O.
type Registry struct {
	backend Backend
	sink    EventSink
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[ID]*Session
	nextID   ID
}

// NewRegistry creates an empty registry that spawns sessions on backend and
// publishes their events to sink.
func NewRegistry(backend Backend, sink EventSink, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = MultiSink()
	}
	if opts.ShellArgs == nil {
		opts.ShellArgs = DefaultShellArgs
	}
	return &Registry{
		backend:  backend,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		sessions: make(map[ID]*Session),
		nextID:   1,
	}
}

// allocate returns the next session id. The caller must hold r.mu.
func (r *Registry) allocate() ID {
	id := r.nextID
	r.nextID++
	return id
}

// insert registers sess under id. The caller must hold r.mu.
func (r *Registry) insert(id ID, sess *Session) error {
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("pty: session %d already registered", id)
	}
	r.sessions[id] = sess
	return nil
}

func (r *Registry) get(id ID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sess, nil
}

func (r *Registry) remove(id ID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.sessions[id]
	delete(r.sessions, id)
	return sess
}

// Create opens a PTY of the given size, starts a login shell in dir (or the
// user's home directory when dir is empty) and registers the session. Any
// failure leaves the registry untouched and consumes no id.
func (r *Registry) Create(size Size, dir string) (ID, error) {
	pair, err := r.backend.OpenPair(size)
	if err != nil {
		return 0, fmt.Errorf("failed to open pty: %w", err)
	}

	shell := r.resolveShell()
	dir = resolveDir(dir)

	child, err := pair.Spawn(Command{
		Path: shell,
		Args: append([]string(nil), r.opts.ShellArgs...),
		Dir:  dir,
		Env:  r.environ(),
	})
	if err != nil {
		_ = pair.Close()
		return 0, fmt.Errorf("failed to spawn shell %s: %w", shell, err)
	}

	writer, err := pair.TakeWriter()
	if err != nil {
		abandon(pair, child)
		return 0, fmt.Errorf("failed to get pty writer: %w", err)
	}
	reader, err := pair.CloneReader()
	if err != nil {
		abandon(pair, child)
		return 0, fmt.Errorf("failed to get pty reader: %w", err)
	}

	sess := &Session{
		shell:     shell,
		dir:       dir,
		createdAt: time.Now(),
		pair:      pair,
		output:    newScrollback(r.opts.ScrollbackSize),
		writer:    writer,
		size:      size,
	}

	r.mu.Lock()
	id := r.allocate()
	sess.id = id
	err = r.insert(id, sess)
	r.mu.Unlock()
	if err != nil {
		_ = reader.Close()
		abandon(pair, child)
		return 0, err
	}

	go pump(id, reader, child, sess.output, r.sink, r.logger)

	r.logger.Info("terminal created", "id", id, "shell", shell, "dir", dir, "rows", size.Rows, "cols", size.Cols)
	return id, nil
}

// Write sends data to the session's shell and flushes it.
func (r *Registry) Write(id ID, data []byte) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	if err := sess.write(data); err != nil {
		return fmt.Errorf("failed to write to terminal %d: %w", id, err)
	}
	return nil
}

// Resize changes the session's PTY geometry.
func (r *Registry) Resize(id ID, size Size) error {
	sess, err := r.get(id)
	if err != nil {
		return err
	}
	if err := sess.resize(size); err != nil {
		return fmt.Errorf("failed to resize terminal %d: %w", id, err)
	}
	return nil
}

// Close unregisters the session and releases the registry's PTY handles.
// It does not kill the shell or stop the reader goroutine: a shell that is
// still running keeps producing events until it exits. Closing an unknown
// id is a no-op.
func (r *Registry) Close(id ID) {
	sess := r.remove(id)
	if sess == nil {
		return
	}
	if err := sess.pair.Close(); err != nil {
		r.logger.Warn("closing terminal pty failed", "id", id, "error", err)
	}
	r.logger.Info("terminal closed", "id", id)
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id ID) (Info, error) {
	sess, err := r.get(id)
	if err != nil {
		return Info{}, err
	}
	return sess.info(), nil
}

// List returns snapshots of all registered sessions ordered by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Output returns the last lines of the session's scrollback.
func (r *Registry) Output(id ID, lines int) ([]string, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return sess.output.Lines(lines), nil
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every registered session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Close(id)
	}
}

func (r *Registry) resolveShell() string {
	if r.opts.Shell != "" {
		return r.opts.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return DefaultShell
}

func (r *Registry) environ() []string {
	env := os.Environ()
	if r.opts.Term != "" {
		env = append(env, "TERM="+r.opts.Term)
	}
	return env
}

// resolveDir picks the shell's working directory. An empty result leaves
// the choice to the backend.
func resolveDir(dir string) string {
	if dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// abandon releases a pair whose session never got registered and reaps its
// child once the hang-up reaches it.
func abandon(pair Pair, child Child) {
	_ = pair.Close()
	go func() {
		_, _ = child.Wait()
	}()
}
