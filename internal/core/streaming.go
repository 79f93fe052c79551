package core

// streaming.go holds the io.Reader wrappers applied to uploads before they
// reach the CSV decoder:
//
//   - bomReader drops a leading UTF-8 byte order mark (Excel exports add one)
//   - utf8Sanitizer rewrites invalid UTF-8 bytes to '?'
//   - SizeLimitedReader counts bytes and fails once a limit is crossed
//
// WrapUpload applies all three in the right order.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// bomReader strips a UTF-8 BOM from the start of the stream.
type bomReader struct {
	r       *bufio.Reader
	checked bool
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: bufio.NewReader(r)}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err == nil && bytes.Equal(head, utf8BOM) {
			b.r.Discard(len(utf8BOM))
		}
	}
	return b.r.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' without changing the
// byte length, so it can work in place. An incomplete multi-byte sequence at
// the end of a read is carried over to the next one.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) < utf8.UTFMax {
		return 0, io.ErrShortBuffer
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	data := p[:n]
	if err == nil {
		if tail := trailingPartialRune(data); tail > 0 {
			s.pending = append(s.pending, data[n-tail:]...)
			data = data[:n-tail]
			if len(data) == 0 {
				return s.Read(p)
			}
		}
	}

	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[i] = '?'
		}
		i += size
	}
	return len(data), err
}

// trailingPartialRune reports how many bytes at the end of data begin a
// multi-byte sequence that has not been completed yet.
func trailingPartialRune(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue
		}
		if b < 0xC0 {
			return 0
		}
		want := 2
		switch {
		case b >= 0xF0:
			want = 4
		case b >= 0xE0:
			want = 3
		}
		if i < want {
			return i
		}
		return 0
	}
	return 0
}

// SizeLimitedReader counts bytes read and fails with a "file too large"
// error once Limit is exceeded. A Limit of zero disables the check.
type SizeLimitedReader struct {
	r         io.Reader
	Limit     int64
	BytesRead int64
}

// NewSizeLimitedReader wraps r with a byte limit.
func NewSizeLimitedReader(r io.Reader, limit int64) *SizeLimitedReader {
	return &SizeLimitedReader{r: r, Limit: limit}
}

func (l *SizeLimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.BytesRead += int64(n)
	if l.Limit > 0 && l.BytesRead > l.Limit {
		return n, fmt.Errorf("file too large: exceeds %d bytes", l.Limit)
	}
	return n, err
}

// WrapUpload prepares an upload stream for decoding.
// BOM stripping runs first, then sanitising, with the size check outermost.
func WrapUpload(r io.Reader, limit int64) *SizeLimitedReader {
	return NewSizeLimitedReader(newUTF8Sanitizer(newBOMReader(r)), limit)
}
