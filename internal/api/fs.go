package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/user/termdeck/internal/files"
)

const defaultScanDepth = 3

type fsDirectoryEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type fsDirectoryResponse struct {
	Path        string             `json:"path"`
	Parent      string             `json:"parent,omitempty"`
	Directories []fsDirectoryEntry `json:"directories"`
}

func (h *handler) listDirectories(w http.ResponseWriter, r *http.Request) {
	targetPath, err := normalizeBrowsePath(r.URL.Query().Get("path"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(targetPath)
	if err != nil || !info.IsDir() {
		jsonError(w, http.StatusBadRequest, "path must be an existing directory")
		return
	}

	entries, err := os.ReadDir(targetPath)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read directory")
		return
	}

	dirs := make([]fsDirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dirs = append(dirs, fsDirectoryEntry{
			Name: name,
			Path: filepath.Join(targetPath, name),
		})
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.ToLower(dirs[i].Name) < strings.ToLower(dirs[j].Name)
	})

	parent := filepath.Dir(targetPath)
	if parent == targetPath {
		parent = ""
	}

	jsonResponse(w, http.StatusOK, fsDirectoryResponse{
		Path:        targetPath,
		Parent:      parent,
		Directories: dirs,
	})
}

type fsScanResponse struct {
	Path    string        `json:"path"`
	Entries []files.Entry `json:"entries"`
}

func (h *handler) scanDirectory(w http.ResponseWriter, r *http.Request) {
	targetPath, err := normalizeBrowsePath(r.URL.Query().Get("path"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid path")
		return
	}
	depth := defaultScanDepth
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid max_depth query parameter")
			return
		}
		depth = n
	}

	entries, err := files.Scan(r.Context(), targetPath, depth, h.scanExcludes)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, fsScanResponse{Path: targetPath, Entries: entries})
}

func (h *handler) readFile(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("path")) == "" {
		jsonError(w, http.StatusBadRequest, "path is required")
		return
	}
	targetPath, err := normalizeBrowsePath(r.URL.Query().Get("path"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid path")
		return
	}
	f, err := files.Read(targetPath, h.maxReadBytes)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, f)
}

func normalizeBrowsePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Clean(home), nil
	}

	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if trimmed == "~" {
			trimmed = home
		} else {
			trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~/"))
		}
	}

	if !filepath.IsAbs(trimmed) {
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return "", err
		}
		trimmed = abs
	}

	return filepath.Clean(trimmed), nil
}
