package report

// reader.go adapts raw report bytes for line scanning.
//
// Scanner exports produced on Windows often start with a UTF-8 BOM and may
// contain stray Latin-1 bytes. Both are handled on the fly so the parser
// only ever sees valid UTF-8, in constant memory:
//
//   - bomSkipper drops a leading 0xEF 0xBB 0xBF
//   - utf8Sanitizer replaces each invalid byte with '?'
//   - countingReader records how many bytes were consumed

import (
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type bomSkipper struct {
	src  io.Reader
	rest io.Reader
}

func newBOMSkipper(r io.Reader) *bomSkipper {
	return &bomSkipper{src: r}
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	if b.rest == nil {
		var head [3]byte
		n, err := io.ReadFull(b.src, head[:])
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			// Shorter than a BOM: whatever was read is the whole input.
			b.rest = bytes.NewReader(head[:n])
		case err != nil:
			return 0, err
		case bytes.Equal(head[:], utf8BOM):
			b.rest = b.src
		default:
			b.rest = io.MultiReader(bytes.NewReader(head[:]), b.src)
		}
	}
	return b.rest.Read(p)
}

// utf8Sanitizer rewrites invalid UTF-8 in place. A multi-byte sequence cut
// by a read boundary is held back until the next refill completes it.
type utf8Sanitizer struct {
	src   io.Reader
	buf   []byte
	start int // next byte to hand out
	ready int // end of cleaned bytes; buf[ready:] is an incomplete rune
	err   error
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{src: r, buf: make([]byte, 0, 32*1024)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for s.start == s.ready {
		if s.err != nil {
			return 0, s.err
		}
		tail := copy(s.buf[:cap(s.buf)], s.buf[s.ready:])
		s.start, s.ready = 0, 0

		n, err := s.src.Read(s.buf[tail:cap(s.buf)])
		s.buf = s.buf[:tail+n]
		s.err = err
		s.ready = s.clean(err != nil)
	}
	n := copy(p, s.buf[s.start:s.ready])
	s.start += n
	return n, nil
}

// clean compacts buf in place and returns the number of bytes ready to
// emit. An incomplete trailing rune is kept right after them.
func (s *utf8Sanitizer) clean(atEOF bool) int {
	data := s.buf
	w, r := 0, 0
	for r < len(data) {
		c := data[r]
		if c < utf8.RuneSelf {
			data[w] = c
			w++
			r++
			continue
		}
		if !atEOF && !utf8.FullRune(data[r:]) {
			break
		}
		if _, size := utf8.DecodeRune(data[r:]); size > 1 {
			copy(data[w:], data[r:r+size])
			w += size
			r += size
			continue
		}
		data[w] = '?'
		w++
		r++
	}
	tail := copy(data[w:], data[r:])
	s.buf = data[:w+tail]
	return w
}

type countingReader struct {
	src io.Reader
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	c.n += int64(n)
	return n, err
}

// wrapInput applies the transforms in order: the BOM must go before any
// byte is inspected, and counting sees the raw stream.
func wrapInput(r io.Reader) (io.Reader, *countingReader) {
	counter := &countingReader{src: r}
	return newUTF8Sanitizer(newBOMSkipper(counter)), counter
}
