package replay_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow/mocks"
	"github.com/Corten-Browser/Corten-MediaEngine/pkg/plugins/monitor/replay"
	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/require"
)

func TestPlugin(t *testing.T) {
	defer astikit.MockNow(func() time.Time { return time.Unix(1, 0) }).Close()

	w := astikit.NewWorker(astikit.WorkerOptions{})
	path := filepath.Join(t.TempDir(), "replay.txt")
	p, err := mediaflow.NewPipeline(mediaflow.PipelineOptions{
		DeltaStats: []astikit.DeltaStat{{
			Metadata: astikit.DeltaStatMetadata{Name: "n"},
			Valuer: astikit.DeltaStatValuerFunc(func(d time.Duration) interface{} {
				w.Stop()
				return 1
			}),
		}},
		Metadata: mediaflow.Metadata{
			Description: "Description",
			Name:        "Name",
		},
		Plugins: []mediaflow.Plugin{replay.New(replay.PluginOptions{
			DeltaPeriod: time.Millisecond,
			Path:        path,
		})},
		Worker: w,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Start(w.Context()))

	require.Eventually(t, func() bool { return p.Status() == mediaflow.StatusDone }, time.Second, 10*time.Millisecond)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(nil, 1<<20)

	require.True(t, s.Scan())
	require.Equal(t, `{"pipeline":{"description":"Description","id":`+jsonUint(p.ID())+`,"name":"Name"}}`, s.Text())

	require.True(t, s.Scan())
	var d struct {
		At       int64 `json:"at"`
		NewStats []struct {
			ID       uint64 `json:"id"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
		} `json:"new_stats"`
		Playback   map[string]interface{} `json:"playback"`
		StatValues map[string]interface{} `json:"stat_values"`
	}
	require.NoError(t, json.Unmarshal(s.Bytes(), &d))
	require.Equal(t, int64(1), d.At)
	require.Equal(t, len(p.DeltaStats()), len(d.NewStats))
	require.Equal(t, "n", d.NewStats[0].Metadata.Name)
	require.Equal(t, map[string]interface{}{"position": float64(0), "state": "idle"}, d.Playback)
	require.Equal(t, float64(1), d.StatValues["1"])
}

func TestPluginRecordsTracks(t *testing.T) {
	track := mediaflow.TrackInfo{Codec: "h264", Duration: 2 * time.Second, Height: 90, ID: 1, MediaType: mediaflow.MediaTypeVideo, Width: 160}
	d := mocks.NewMockedDemuxer(2*time.Second, track)
	ds := mocks.NewMockedDecoders()
	c := mediaflow.NewCapabilities()
	c.RegisterDemuxer(d.Capability())
	c.RegisterDecoder(ds.Capability())

	w := astikit.NewWorker(astikit.WorkerOptions{})
	defer w.Stop()
	path := filepath.Join(t.TempDir(), "replays", "replay.txt")
	p, err := mediaflow.NewPipeline(mediaflow.PipelineOptions{
		Capabilities: c,
		Plugins: []mediaflow.Plugin{replay.New(replay.PluginOptions{
			DeltaPeriod: time.Hour,
			Path:        path,
		})},
		VideoSink: mocks.NewMockedVideoSink(),
		Worker:    w,
	})
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Start(w.Context()))
	require.NoError(t, p.Load(context.Background(), mediaflow.Source{Data: []byte("mocked")}, mediaflow.DefaultPipelineConfig()))

	var l struct {
		Tracks []struct {
			Codec     string `json:"codec"`
			Duration  int64  `json:"duration"`
			ID        int    `json:"id"`
			MediaType string `json:"media_type"`
		} `json:"tracks"`
	}
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		s := bufio.NewScanner(bytes.NewReader(b))
		for s.Scan() {
			if err := json.Unmarshal(s.Bytes(), &l); err == nil && len(l.Tracks) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	require.Len(t, l.Tracks, 1)
	require.Equal(t, "h264", l.Tracks[0].Codec)
	require.Equal(t, int64(2000), l.Tracks[0].Duration)
	require.Equal(t, 1, l.Tracks[0].ID)
	require.Equal(t, "video", l.Tracks[0].MediaType)
}

func jsonUint(i uint64) string {
	b, _ := json.Marshal(i)
	return string(b)
}
