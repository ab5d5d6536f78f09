package mediaflow

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReaderSource(t *testing.T) {
	r := NewReaderSource(strings.NewReader("abcdef"))
	_, ok := r.(ReadSeekSourceReader)
	require.True(t, ok)
	b, err := r.Read(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(b))
	b, err = r.Read(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, "ef", string(b))
	_, err = r.Read(context.Background(), 4)
	require.ErrorIs(t, err, ErrEndOfStream)

	_, err = r.(io.Seeker).Seek(2, io.SeekStart)
	require.NoError(t, err)
	b, err = ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "cdef", string(b))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Read(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)

	r = NewReaderSource(io.MultiReader(strings.NewReader("a")))
	_, ok = r.(ReadSeekSourceReader)
	require.False(t, ok)
}

func TestOpenSource(t *testing.T) {
	c := NewCapabilities()

	r, err := c.OpenSource(context.Background(), Source{Data: []byte("data")})
	require.NoError(t, err)
	b, err := ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "data", string(b))

	p := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(p, []byte("file"), 0o600))
	for _, u := range []string{p, "file://" + p} {
		r, err = c.OpenSource(context.Background(), Source{URL: u})
		require.NoError(t, err)
		b, err = ReadAll(context.Background(), r)
		require.NoError(t, err)
		require.Equal(t, "file", string(b))
		require.NoError(t, r.(io.Closer).Close())
	}

	_, err = c.OpenSource(context.Background(), Source{URL: "srt://127.0.0.1:4000"})
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = c.OpenSource(context.Background(), Source{})
	require.ErrorIs(t, err, ErrUnsupported)

	var opened Source
	c.RegisterSource(SourceCapability{
		Name: "srt",
		Open: func(ctx context.Context, s Source) (SourceReader, error) {
			opened = s
			return NewBufferReader([]byte("srt")), nil
		},
		Schemes: []string{"srt"},
	})
	r, err = c.OpenSource(context.Background(), Source{URL: "SRT://127.0.0.1:4000"})
	require.NoError(t, err)
	require.Equal(t, "SRT://127.0.0.1:4000", opened.URL)
	b, err = ReadAll(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "srt", string(b))
}
