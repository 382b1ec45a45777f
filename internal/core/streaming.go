package core

// streaming.go provides readers that clean instrument text exports on the fly:
//
//   - a leading UTF-8 byte order mark is dropped (Windows cycler software writes one)
//   - invalid UTF-8 bytes are replaced with '?' so the parsers never see them
//
// Both work in constant memory.

import (
	"bufio"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NewTextReader wraps r with BOM removal and UTF-8 sanitization.
func NewTextReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && string(head) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &utf8Sanitizer{r: br}
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'.
// A multi-byte sequence split across reads is held back until complete.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	off := copy(p, s.pending)
	s.pending = s.pending[:0]
	if off == len(p) && off > 0 {
		return s.clean(p[:off], false), nil
	}

	n, err := s.r.Read(p[off:])
	n += off
	if n == 0 {
		return 0, err
	}
	return s.clean(p[:n], err != nil), err
}

// clean rewrites data in place and returns the number of bytes ready to hand out.
func (s *utf8Sanitizer) clean(data []byte, final bool) int {
	if asciiOnly(data) {
		return len(data)
	}
	w := 0
	for i := 0; i < len(data); {
		if !final && !utf8.FullRune(data[i:]) {
			s.pending = append(s.pending, data[i:]...)
			break
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			i++
			continue
		}
		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return w
}

func asciiOnly(data []byte) bool {
	for _, b := range data {
		if b >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// CountingReader tracks bytes read through it.
type CountingReader struct {
	r         io.Reader
	BytesRead int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.BytesRead += int64(n)
	return n, err
}
