package mediaflow

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamReader(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewStreamReader(pr, StreamReaderOptions{BufferSize: 4})
	defer r.Close()
	require.Len(t, r.DeltaStats(), 1)

	// Blocked read returns on cancellation
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)

	// Chunks are split
	go func() { _, _ = pw.Write([]byte("abcd")) }()
	b, err := r.Read(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "abc", string(b))
	b, err = r.Read(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "d", string(b))
	require.Equal(t, uint64(4), r.IncomingBytes())

	// End of stream
	require.NoError(t, pw.Close())
	_, err = r.Read(context.Background(), 3)
	require.ErrorIs(t, err, ErrEndOfStream)
	_, err = r.Read(context.Background(), 3)
	require.ErrorIs(t, err, ErrEndOfStream)

	// Read error
	pr, pw = io.Pipe()
	r2 := NewStreamReader(pr, StreamReaderOptions{})
	defer r2.Close()
	errTest := errors.New("test")
	require.NoError(t, pw.CloseWithError(errTest))
	_, err = r2.Read(context.Background(), 3)
	require.ErrorIs(t, err, errTest)

	// Close unblocks the background read
	pr, _ = io.Pipe()
	r3 := NewStreamReader(pr, StreamReaderOptions{})
	require.NoError(t, r3.Close())
	require.NoError(t, r3.Close())
	_, err = r3.Read(context.Background(), 3)
	require.Error(t, err)
}
