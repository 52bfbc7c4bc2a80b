package files

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxReadBytes caps Read when no limit is configured.
const DefaultMaxReadBytes int64 = 8 << 20

// File is the content of a UTF-8 text file.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Read returns the content of the file at path. Directories, files larger
// than maxBytes and content that is not valid UTF-8 are rejected.
func Read(path string, maxBytes int64) (*File, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxReadBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to read file: %s is a directory", path)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("failed to read file: %s is %d bytes, limit is %d", path, info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("failed to read file: %s is not valid UTF-8", path)
	}

	return &File{
		Path:     path,
		Content:  string(data),
		MimeType: mimetype.Detect(data).String(),
		Size:     int64(len(data)),
	}, nil
}
