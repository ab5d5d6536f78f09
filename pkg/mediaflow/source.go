package mediaflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source describes where media comes from. Exactly one of Reader, Data and URL is expected to be set.
type Source struct {
	Data     []byte
	MIMEType string
	Reader   SourceReader
	URL      string
}

func (s Source) String() string {
	switch {
	case s.Reader != nil:
		return "reader source"
	case s.Data != nil:
		return fmt.Sprintf("buffer source (%d bytes)", len(s.Data))
	default:
		return s.URL
	}
}

// ReadSeekSourceReader is implemented by source readers backed by seekable data
type ReadSeekSourceReader interface {
	SourceReader
	io.Seeker
}

var (
	_ ReadSeekSourceReader = (*seekableReaderSource)(nil)
	_ io.Closer            = (*readerSource)(nil)
)

type readerSource struct {
	r io.Reader
}

type seekableReaderSource struct {
	*readerSource
	s io.Seeker
}

// NewReaderSource adapts an io.Reader. The returned reader is seekable when r is.
func NewReaderSource(r io.Reader) SourceReader {
	rs := &readerSource{r: r}
	if s, ok := r.(io.Seeker); ok {
		return &seekableReaderSource{readerSource: rs, s: s}
	}
	return rs
}

func NewBufferReader(b []byte) SourceReader {
	return NewReaderSource(bytes.NewReader(b))
}

func OpenFile(path string) (SourceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mediaflow: opening %s failed: %w", path, err)
	}
	return NewReaderSource(f), nil
}

// Read checks for cancellation before reading. Readers that can block indefinitely should
// implement SourceReader themselves.
func (r *readerSource) Read(ctx context.Context, max int) ([]byte, error) {
	// Check context
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Read
	b := make([]byte, max)
	n, err := r.r.Read(b)
	if n > 0 {
		return b[:n], nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("mediaflow: reading failed: %w", err)
	}
	return b[:0], nil
}

func (r *readerSource) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *seekableReaderSource) Seek(offset int64, whence int) (int64, error) {
	return r.s.Seek(offset, whence)
}

// ReadAll reads r until end of stream
func ReadAll(ctx context.Context, r SourceReader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.Read(ctx, 32*1024)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				return buf.Bytes(), nil
			}
			return nil, err
		}
		buf.Write(b)
	}
}
