package pty

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// outputDecoder turns PTY reads into valid UTF-8. Invalid byte sequences
// become U+FFFD. A multi-byte rune cut off at the end of a read is held back
// and prepended to the next read; everything before it is returned at once.
type outputDecoder struct {
	dec   *encoding.Decoder
	carry []byte
}

func newOutputDecoder() *outputDecoder {
	return &outputDecoder{dec: unicode.UTF8.NewDecoder()}
}

// decode returns the text of p that can be decoded now.
func (d *outputDecoder) decode(p []byte) string {
	src := p
	if len(d.carry) > 0 {
		src = append(d.carry, p...)
		d.carry = nil
	}
	cut := incompleteTail(src)
	if cut < len(src) {
		d.carry = append([]byte(nil), src[cut:]...)
		src = src[:cut]
	}
	return d.lossy(src)
}

// flush returns any held-back bytes as replacement characters. It is called
// once the stream has ended, whatever the reason.
func (d *outputDecoder) flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	out := d.lossy(d.carry)
	d.carry = nil
	return out
}

func (d *outputDecoder) lossy(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	if utf8.Valid(p) {
		return string(p)
	}
	out, err := d.dec.Bytes(p)
	if err != nil {
		// The UTF-8 decoder replaces rather than fails; keep Go's own
		// replacement as a fallback.
		return string([]rune(string(p)))
	}
	return string(out)
}

// incompleteTail returns the offset where a truncated rune starts at the end
// of p, or len(p) when p ends on a rune boundary or in an invalid sequence.
func incompleteTail(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return i
			}
			return len(p)
		}
	}
	return len(p)
}
