package srtmedia

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	defer func(fn func(addr, streamID string) (io.ReadCloser, error)) { dial = fn }(dial)

	var addr, streamID string
	pr, pw := io.Pipe()
	dial = func(a, s string) (io.ReadCloser, error) {
		addr = a
		streamID = s
		return pr, nil
	}

	c := mediaflow.NewCapabilities()
	Register(c, Options{})
	_, _, ss := c.Names()
	require.Equal(t, []string{"srt"}, ss)

	sr, err := c.OpenSource(context.Background(), mediaflow.Source{URL: "srt://127.0.0.1:4000?streamid=live/test"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", addr)
	require.Equal(t, "live/test", streamID)
	go func() {
		_, _ = pw.Write([]byte("ts"))
		pw.Close()
	}()
	b, err := mediaflow.ReadAll(context.Background(), sr)
	require.NoError(t, err)
	require.Equal(t, "ts", string(b))
	require.NoError(t, sr.(io.Closer).Close())

	errTest := errors.New("test")
	dial = func(a, s string) (io.ReadCloser, error) { return nil, errTest }
	_, err = Dial(context.Background(), "srt://127.0.0.1:4000", Options{})
	require.ErrorIs(t, err, errTest)

	_, err = Dial(context.Background(), "srt://", Options{})
	require.Error(t, err)

	block := make(chan struct{})
	defer close(block)
	dial = func(a, s string) (io.ReadCloser, error) {
		<-block
		return nil, errTest
	}
	_, err = Dial(context.Background(), "srt://127.0.0.1:4000", Options{DialTimeout: time.Millisecond})
	require.Error(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dial(ctx, "srt://127.0.0.1:4000", Options{})
	require.ErrorIs(t, err, context.Canceled)
}
