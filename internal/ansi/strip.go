// Package ansi turns raw terminal output into plain text for scrollback views.
// It does not emulate a terminal: cursor movement is discarded, not applied.
package ansi

import (
	"regexp"
	"unicode/utf8"
)

// escape matches, in priority order: CSI sequences, OSC strings terminated
// by BEL or ST, DCS/PM/APC/screen-title strings terminated by ST, charset
// designations, and any remaining two-byte escape.
var escape = regexp.MustCompile(`(?s)\x1b(?:\[[0-?]*[ -/]*[@-~]|\].*?(?:\x07|\x1b\\)|[P^_k].*?\x1b\\|[()][0-9A-Za-z]|.)`)

// Strip removes escape sequences and control characters from s. Backspace
// erases the previous rune; newlines and tabs are kept.
func Strip(s string) string {
	s = escape.ReplaceAllString(s, "")

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\b':
			_, size := utf8.DecodeLastRune(out)
			out = out[:len(out)-size]
		case c == '\n' || c == '\t':
			out = append(out, c)
		case c < 0x20 || c == 0x7f:
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// StripLines applies Strip to every line.
func StripLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = Strip(line)
	}
	return out
}
