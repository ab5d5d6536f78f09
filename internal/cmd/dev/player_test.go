package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow/mocks"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPlayer(t *testing.T) {
	track := mediaflow.TrackInfo{Codec: "h264", Height: 90, ID: 0, MediaType: mediaflow.MediaTypeVideo, Width: 160}
	d := mocks.NewMockedDemuxer(3*time.Second, track)
	ds := mocks.NewMockedDecoders()
	c := mediaflow.NewCapabilities()
	c.RegisterDemuxer(d.Capability())
	c.RegisterDecoder(ds.Capability())

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	p, err := mediaflow.NewPipeline(mediaflow.PipelineOptions{
		Capabilities: c,
		VideoSink:    mocks.NewMockedVideoSink(),
		Worker:       w,
	})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Start(w.Context()))

	buf := &bytes.Buffer{}
	pl := newPlayer(p, mediaflow.DefaultPipelineConfig(), buf)
	ctx := context.Background()

	require.NoError(t, pl.handle(ctx, ""))
	require.Error(t, pl.handle(ctx, "unknown"))
	require.ErrorIs(t, pl.handle(ctx, "quit"), errQuit)

	require.NoError(t, pl.handle(ctx, "state"))
	require.Equal(t, "idle\n", buf.String())
	buf.Reset()

	require.ErrorIs(t, pl.handle(ctx, "play"), mediaflow.ErrInvalidTransition)
	require.Error(t, pl.handle(ctx, "load"))
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mocked"), 0600))
	require.NoError(t, pl.handle(ctx, "load "+path))
	require.Equal(t, mediaflow.StateReady, p.State())

	require.NoError(t, pl.handle(ctx, "tracks"))
	require.Equal(t, track.String()+"\n", buf.String())
	buf.Reset()

	require.NoError(t, pl.handle(ctx, "play"))
	require.Equal(t, mediaflow.StateRunning, p.State())
	require.Error(t, pl.handle(ctx, "rate"))
	require.Error(t, pl.handle(ctx, "rate fast"))
	require.Error(t, pl.handle(ctx, "rate -1"))
	require.NoError(t, pl.handle(ctx, "rate 2"))
	require.NoError(t, pl.handle(ctx, "pause"))
	require.Equal(t, mediaflow.StatePaused, p.State())

	require.Error(t, pl.handle(ctx, "seek"))
	require.Error(t, pl.handle(ctx, "seek 1"))
	require.NoError(t, pl.handle(ctx, "seek 1s"))
	require.Equal(t, mediaflow.StatePaused, p.State())

	require.NoError(t, pl.handle(ctx, "pos"))
	require.Equal(t, "1s\n", buf.String())
	buf.Reset()

	require.NoError(t, pl.handle(ctx, "ranges"))
	require.Contains(t, buf.String(), "[")
	buf.Reset()

	require.NoError(t, pl.handle(ctx, "stop"))
	require.NoError(t, pl.handle(ctx, "state"))
	require.Equal(t, "stopped\n", buf.String())
	buf.Reset()

	require.NoError(t, pl.handle(ctx, "ranges"))
	require.Equal(t, "no buffered range\n", buf.String())
	buf.Reset()

	require.NoError(t, pl.handle(ctx, "help"))
	require.Contains(t, buf.String(), "seek <duration>")
}
