package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/termdeck/internal/ansi"
	"github.com/user/termdeck/internal/pty"
)

const (
	defaultOutputLines  = 200
	maxOutputLines      = 2000
	defaultHistoryLimit = 50
)

type createTerminalRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
	Cwd  string `json:"cwd,omitempty"`
}

type createTerminalResponse struct {
	ID pty.ID `json:"id"`
}

type writeTerminalRequest struct {
	Data string `json:"data"`
}

type resizeTerminalRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

type terminalOutputResponse struct {
	ID    pty.ID   `json:"id"`
	Lines []string `json:"lines"`
}

func (h *handler) createTerminal(w http.ResponseWriter, r *http.Request) {
	var req createTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dir := ""
	if strings.TrimSpace(req.Cwd) != "" {
		normalized, err := normalizeBrowsePath(req.Cwd)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid cwd")
			return
		}
		dir = normalized
	}

	id, err := h.terminals.Create(pty.Size{Rows: req.Rows, Cols: req.Cols}, dir)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.terminalsChanged()
	jsonResponse(w, http.StatusCreated, createTerminalResponse{ID: id})
}

func (h *handler) listTerminals(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.terminals.List())
}

func (h *handler) getTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := terminalID(w, r)
	if !ok {
		return
	}
	info, err := h.terminals.Get(id)
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, info)
}

func (h *handler) writeTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := terminalID(w, r)
	if !ok {
		return
	}
	var req writeTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.terminals.Write(id, []byte(req.Data)); err != nil {
		writeTerminalError(w, err)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) resizeTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := terminalID(w, r)
	if !ok {
		return
	}
	var req resizeTerminalRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.terminals.Resize(id, pty.Size{Rows: req.Rows, Cols: req.Cols}); err != nil {
		writeTerminalError(w, err)
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}

// closeTerminal always succeeds, including for unknown ids.
func (h *handler) closeTerminal(w http.ResponseWriter, r *http.Request) {
	id, ok := terminalID(w, r)
	if !ok {
		return
	}
	h.terminals.Close(id)
	h.terminalsChanged()
	jsonResponse(w, http.StatusNoContent, nil)
}

func (h *handler) getTerminalOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := terminalID(w, r)
	if !ok {
		return
	}
	lines := defaultOutputLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid lines query parameter")
			return
		}
		if n > maxOutputLines {
			n = maxOutputLines
		}
		lines = n
	}

	out, err := h.terminals.Output(id, lines)
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	if r.URL.Query().Get("plain") == "true" {
		out = ansi.StripLines(out)
	}
	if out == nil {
		out = []string{}
	}
	jsonResponse(w, http.StatusOK, terminalOutputResponse{ID: id, Lines: out})
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		jsonError(w, http.StatusNotFound, "terminal history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid limit query parameter")
			return
		}
		limit = n
	}
	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, records)
}

func (h *handler) terminalsChanged() {
	if h.notifier != nil {
		h.notifier.BroadcastTerminals()
	}
}

func terminalID(w http.ResponseWriter, r *http.Request) (pty.ID, bool) {
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil || n == 0 {
		jsonError(w, http.StatusBadRequest, "invalid terminal id")
		return 0, false
	}
	return pty.ID(n), true
}

func writeTerminalError(w http.ResponseWriter, err error) {
	if errors.Is(err, pty.ErrSessionNotFound) {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	jsonError(w, http.StatusInternalServerError, err.Error())
}
