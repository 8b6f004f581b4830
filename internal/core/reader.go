package core

// reader.go wraps source files for CSV parsing without buffering them whole:
//
//   - CountingReader counts raw bytes and enforces the size limit
//   - the raw bytes are hashed (SHA-256) for checksum-based skipping
//   - SkipBOM drops a leading UTF-8 byte-order mark
//   - UTF8Sanitizer replaces invalid UTF-8 bytes with '?'
//
// OpenSource applies all of them in that order.

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SkipBOM returns a reader that yields r without a leading byte-order mark.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// UTF8Sanitizer replaces each byte that is not part of a valid UTF-8
// sequence with '?'.
type UTF8Sanitizer struct {
	br      *bufio.Reader
	pending []byte
}

// NewUTF8Sanitizer wraps r.
func NewUTF8Sanitizer(r io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{br: bufio.NewReader(r)}
}

// Read implements io.Reader. It returns early rather than block once some
// bytes are ready.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	n := copy(p, s.pending)
	s.pending = s.pending[n:]

	var buf [utf8.UTFMax]byte
	for n < len(p) {
		if n > 0 && s.br.Buffered() == 0 {
			break
		}
		r, size, err := s.br.ReadRune()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if r == utf8.RuneError && size == 1 {
			p[n] = '?'
			n++
			continue
		}
		w := utf8.EncodeRune(buf[:], r)
		c := copy(p[n:], buf[:w])
		n += c
		if c < w {
			s.pending = append(s.pending, buf[c:w]...)
		}
	}
	return n, nil
}

// CountingReader counts bytes read and fails once more than Limit bytes
// have been read. A zero Limit disables the check.
type CountingReader struct {
	r     io.Reader
	n     int64
	Limit int64
}

// NewCountingReader wraps r with an optional byte limit.
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{r: r, Limit: limit}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.Limit > 0 && c.n > c.Limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, c.Limit)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (c *CountingReader) BytesRead() int64 {
	return c.n
}

// SourceReader is the fully wrapped view of a source file.
type SourceReader struct {
	io.Reader
	count *CountingReader
	hash  hash.Hash
}

// OpenSource wraps a raw source stream for parsing. maxSize of zero means
// unlimited.
func OpenSource(r io.Reader, maxSize int64) *SourceReader {
	count := NewCountingReader(r, maxSize)
	h := sha256.New()
	return &SourceReader{
		Reader: NewUTF8Sanitizer(SkipBOM(io.TeeReader(count, h))),
		count:  count,
		hash:   h,
	}
}

// BytesRead returns the raw bytes consumed, including any byte-order mark.
func (s *SourceReader) BytesRead() int64 {
	return s.count.BytesRead()
}

// Checksum returns the hex SHA-256 of the raw bytes consumed so far. It is
// the file's checksum once the reader has reached EOF.
func (s *SourceReader) Checksum() string {
	return hex.EncodeToString(s.hash.Sum(nil))
}
