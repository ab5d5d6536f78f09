package mediaflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
)

const DeltaStatNameStreamReaderByteRate = "mediaflow.stream_reader.byte_rate"

var _ SourceReader = (*StreamReader)(nil)

// StreamReader adapts a network stream whose reads can't be interrupted. Reads happen in a
// goroutine so that Read can return as soon as its context is done without losing data.
type StreamReader struct {
	ch            chan []byte
	closeOnce     sync.Once
	done          chan struct{}
	err           error
	incomingBytes uint64
	left          []byte
	rc            io.ReadCloser
}

type StreamReaderOptions struct {
	// Defaults to 16KiB
	BufferSize int
	// Number of chunks read ahead, defaults to 32
	ChunksCount int
}

func NewStreamReader(rc io.ReadCloser, o StreamReaderOptions) *StreamReader {
	// Default options
	if o.BufferSize <= 0 {
		o.BufferSize = 16 * 1024
	}
	if o.ChunksCount <= 0 {
		o.ChunksCount = 32
	}

	// Create reader
	r := &StreamReader{
		ch:   make(chan []byte, o.ChunksCount),
		done: make(chan struct{}),
		rc:   rc,
	}

	// Read in the background
	go r.read(o.BufferSize)
	return r
}

func (r *StreamReader) read(bufferSize int) {
	// Make sure channel is closed
	defer close(r.ch)

	for {
		// Read
		b := make([]byte, bufferSize)
		n, err := r.rc.Read(b)
		if n > 0 {
			atomic.AddUint64(&r.incomingBytes, uint64(n))
			select {
			case r.ch <- b[:n]:
			case <-r.done:
				return
			}
		}

		// Process error
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.err = ErrEndOfStream
			} else {
				r.err = fmt.Errorf("mediaflow: reading stream failed: %w", err)
			}
			return
		}
	}
}

func (r *StreamReader) Read(ctx context.Context, max int) ([]byte, error) {
	// Leftover from previous chunk
	if len(r.left) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case b, ok := <-r.ch:
			if !ok {
				// r.err is written before r.ch is closed
				if r.err == nil {
					return nil, ErrEndOfStream
				}
				return nil, r.err
			}
			r.left = b
		}
	}

	// Split
	n := min(max, len(r.left))
	b := r.left[:n]
	r.left = r.left[n:]
	return b, nil
}

func (r *StreamReader) Close() (err error) {
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.rc.Close()
	})
	return
}

func (r *StreamReader) IncomingBytes() uint64 {
	return atomic.LoadUint64(&r.incomingBytes)
}

func (r *StreamReader) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes received per second",
				Label:       "Stream byte rate",
				Name:        DeltaStatNameStreamReaderByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&r.incomingBytes),
		},
	}
}
