package pty

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const defaultScrollbackSize = 256 * 1024

// scrollback is a fixed-size circular buffer holding the most recent output
// of one session.
type scrollback struct {
	mu   sync.Mutex
	data []byte
	pos  int
	full bool
}

func newScrollback(capacity int) *scrollback {
	if capacity <= 0 {
		capacity = defaultScrollbackSize
	}
	return &scrollback{data: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes when full.
func (s *scrollback) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) >= len(s.data) {
		copy(s.data, p[len(p)-len(s.data):])
		s.pos = 0
		s.full = true
		return
	}
	n := copy(s.data[s.pos:], p)
	if n < len(p) {
		copy(s.data, p[n:])
		s.full = true
	}
	s.pos = (s.pos + len(p)) % len(s.data)
	if s.pos == 0 && len(p) > 0 {
		s.full = true
	}
}

// Bytes returns a copy of the buffered output in chronological order.
func (s *scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return append([]byte(nil), s.data[:s.pos]...)
	}
	out := make([]byte, 0, len(s.data))
	out = append(out, s.data[s.pos:]...)
	out = append(out, s.data[:s.pos]...)
	// The oldest bytes may be the tail of a rune that was overwritten.
	for n := 0; n < utf8.UTFMax-1 && len(out) > 0 && !utf8.RuneStart(out[0]); n++ {
		out = out[1:]
	}
	return out
}

// Lines returns the last n lines of buffered output, or all of it when n <= 0.
func (s *scrollback) Lines(n int) []string {
	lines := strings.Split(string(s.Bytes()), "\n")
	if n > 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return lines
}
