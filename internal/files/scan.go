// Package files implements the read-only filesystem views used by the GUI:
// a bounded recursive scan and a text file reader.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// DefaultExcludes are name patterns skipped by Scan when none are configured.
var DefaultExcludes = []string{".*", "node_modules", "dist", "build", "target", "__pycache__", "venv"}

// Entry is one scanned path.
type Entry struct {
	Path     string `json:"path"`
	FileType string `json:"fileType"`
	Name     string `json:"name"`
}

// ValidatePatterns reports the first malformed exclude pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

// Scan lists the descendants of root up to maxDepth levels deep. Direct
// children are at depth 0. Entries whose name matches an exclude pattern are
// left out, and excluded directories are not descended into.
func Scan(ctx context.Context, root string, maxDepth int, excludes []string) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("path does not exist: %s", root)
		}
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}
	if maxDepth <= 0 {
		return []Entry{}, nil
	}
	root = filepath.Clean(root)

	var (
		mu      sync.Mutex
		entries = []Entry{}
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		if err != nil {
			// Unreadable entries are skipped.
			return nil
		}

		name := d.Name()
		if excluded(name, excludes) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		depth := depthOf(root, p)
		if depth >= maxDepth {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		fileType := TypeFile
		if d.IsDir() {
			fileType = TypeDirectory
		}
		mu.Lock()
		entries = append(entries, Entry{Path: p, FileType: fileType, Name: name})
		mu.Unlock()

		if d.IsDir() && depth+1 >= maxDepth {
			return fastwalk.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func depthOf(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator))
}
