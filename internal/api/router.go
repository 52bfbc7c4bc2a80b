package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/user/termdeck/internal/db"
	"github.com/user/termdeck/internal/files"
	"github.com/user/termdeck/internal/pty"
	"github.com/user/termdeck/internal/stats"
)

// Terminals is the terminal control surface behind /api/terminals.
type Terminals interface {
	Create(size pty.Size, dir string) (pty.ID, error)
	Write(id pty.ID, data []byte) error
	Resize(id pty.ID, size pty.Size) error
	Close(id pty.ID)
	Get(id pty.ID) (pty.Info, error)
	List() []pty.Info
	Output(id pty.ID, lines int) ([]string, error)
}

type History interface {
	List(ctx context.Context, limit int) ([]*db.TerminalRecord, error)
}

// Notifier is told when the set of terminals changes.
type Notifier interface {
	BroadcastTerminals()
}

type Options struct {
	Token        string
	Terminals    Terminals
	History      History
	Notifier     Notifier
	StatsPath    string
	Pricing      stats.Pricing
	ScanExcludes []string
	MaxReadBytes int64
}

type handler struct {
	terminals    Terminals
	history      History
	notifier     Notifier
	statsPath    string
	pricing      stats.Pricing
	scanExcludes []string
	maxReadBytes int64
}

func NewRouter(opts Options) http.Handler {
	h := &handler{
		terminals:    opts.Terminals,
		history:      opts.History,
		notifier:     opts.Notifier,
		statsPath:    opts.StatsPath,
		pricing:      opts.Pricing,
		scanExcludes: opts.ScanExcludes,
		maxReadBytes: opts.MaxReadBytes,
	}
	if h.scanExcludes == nil {
		h.scanExcludes = files.DefaultExcludes
	}
	if h.maxReadBytes <= 0 {
		h.maxReadBytes = files.DefaultMaxReadBytes
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/terminals", h.createTerminal)
	mux.HandleFunc("GET /api/terminals", h.listTerminals)
	mux.HandleFunc("GET /api/terminals/history", h.listHistory)
	mux.HandleFunc("GET /api/terminals/{id}", h.getTerminal)
	mux.HandleFunc("POST /api/terminals/{id}/input", h.writeTerminal)
	mux.HandleFunc("POST /api/terminals/{id}/resize", h.resizeTerminal)
	mux.HandleFunc("DELETE /api/terminals/{id}", h.closeTerminal)
	mux.HandleFunc("GET /api/terminals/{id}/output", h.getTerminalOutput)

	mux.HandleFunc("GET /api/stats", h.getStats)

	mux.HandleFunc("GET /api/fs/dirs", h.listDirectories)
	mux.HandleFunc("GET /api/fs/scan", h.scanDirectory)
	mux.HandleFunc("GET /api/fs/read", h.readFile)

	wrapped := authMiddleware(opts.Token)(jsonMiddleware(corsMiddleware(mux)))
	return wrapped
}

func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				if strings.TrimSpace(authHeader[7:]) == token {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.URL.Query().Get("token") == token {
				next.ServeHTTP(w, r)
				return
			}

			jsonError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return io.ErrUnexpectedEOF
	}
	return nil
}
