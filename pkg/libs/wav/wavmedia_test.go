package wavmedia

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/stretchr/testify/require"
)

func newTestBlock(pts time.Duration) *mediaflow.AudioBlock {
	// 20ms of stereo samples at 8kHz
	b := make([]byte, 160*2*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(b[i*4:], uint16(1<<14))
	}
	return &mediaflow.AudioBlock{
		Channels:     2,
		Data:         [][]byte{b},
		SampleFormat: "s16",
		SampleRate:   8000,
		Samples:      160,
		Timing:       mediaflow.Timing{Duration: 20 * time.Millisecond, PTS: pts},
	}
}

func newTestFile(t *testing.T) string {
	p := filepath.Join(t.TempDir(), "test.wav")
	s, err := NewFileSink(p, SinkOptions{})
	require.NoError(t, err)
	_, ok := s.ConsumedPosition()
	require.False(t, ok)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(context.Background(), newTestBlock(time.Duration(i)*20*time.Millisecond)))
	}
	pos, ok := s.ConsumedPosition()
	require.True(t, ok)
	require.Equal(t, 100*time.Millisecond, pos)
	b := newTestBlock(0)
	b.SampleRate = 16000
	require.True(t, errors.Is(s.Enqueue(context.Background(), b), mediaflow.ErrUnsupported))
	s.Flush()
	_, ok = s.ConsumedPosition()
	require.False(t, ok)
	require.NoError(t, s.Close())
	return p
}

func TestRegister(t *testing.T) {
	c := mediaflow.NewCapabilities()
	Register(c, DemuxerOptions{})
	_, err := c.NewDemuxer(mediaflow.Source{URL: "/tmp/a.WAV"})
	require.NoError(t, err)
	_, err = c.NewDemuxer(mediaflow.Source{Data: []byte{}, MIMEType: "audio/x-wav"})
	require.NoError(t, err)
	_, err = c.NewDemuxer(mediaflow.Source{URL: "/tmp/a.mp4"})
	require.True(t, errors.Is(err, mediaflow.ErrUnsupported))
	_, err = c.NewDecoder(mediaflow.TrackInfo{Private: Format{BitDepth: 16, Channels: 1, SampleRate: 8000}})
	require.NoError(t, err)
	_, err = c.NewDecoder(mediaflow.TrackInfo{Codec: "pcm_s16le"})
	require.True(t, errors.Is(err, mediaflow.ErrUnsupported))
}

func TestDemuxer(t *testing.T) {
	r, err := mediaflow.OpenFile(newTestFile(t))
	require.NoError(t, err)
	d := NewDemuxer(DemuxerOptions{})
	is, err := d.Open(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, []mediaflow.TrackInfo{{
		Channels:   2,
		Codec:      "pcm_s16le",
		Duration:   100 * time.Millisecond,
		MediaType:  mediaflow.MediaTypeAudio,
		Private:    Format{BitDepth: 16, Channels: 2, SampleRate: 8000},
		SampleRate: 8000,
	}}, is)

	for i := 0; i < 5; i++ {
		p, err := d.NextPacket(context.Background())
		require.NoError(t, err)
		require.Equal(t, time.Duration(i)*20*time.Millisecond, p.PTS)
		require.Equal(t, p.PTS, p.DTS)
		require.Equal(t, 20*time.Millisecond, p.Duration)
		require.True(t, p.Keyframe)
		require.Len(t, p.Data, 160*4)
		require.Equal(t, int16(16383), int16(binary.LittleEndian.Uint16(p.Data)))
	}
	_, err = d.NextPacket(context.Background())
	require.True(t, errors.Is(err, mediaflow.ErrEndOfStream))

	require.NoError(t, d.Seek(context.Background(), 50*time.Millisecond, mediaflow.SeekModeKeyframe))
	p, err := d.NextPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, p.PTS)

	dc, err := NewDecoder(is[0])
	require.NoError(t, err)
	fs, err := dc.Decode(p)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	b, ok := fs[0].(*mediaflow.AudioBlock)
	require.True(t, ok)
	require.Equal(t, 50*time.Millisecond, b.PTS)
	require.Equal(t, 20*time.Millisecond, b.Duration)
	require.Equal(t, 160, b.Samples)
	require.Equal(t, "s16", b.SampleFormat)
	require.Equal(t, p.Data, b.Data[0])
}

func TestDemuxerShouldRejectInvalidFiles(t *testing.T) {
	d := NewDemuxer(DemuxerOptions{})
	_, err := d.Open(context.Background(), mediaflow.NewBufferReader([]byte("not a wav file")))
	require.True(t, errors.Is(err, mediaflow.ErrUnsupported))
}

func TestDecoder(t *testing.T) {
	_, err := NewDecoder(mediaflow.TrackInfo{Private: Format{BitDepth: 12, Channels: 1, SampleRate: 8000}})
	require.True(t, errors.Is(err, mediaflow.ErrUnsupported))

	d, err := NewDecoder(mediaflow.TrackInfo{Private: Format{BitDepth: 24, Channels: 1, SampleRate: 8000}})
	require.NoError(t, err)
	fs, err := d.Decode(mediaflow.Packet{Data: []byte{0xff, 0xff, 0xff, 0x00, 0x00, 0x40}})
	require.NoError(t, err)
	require.Len(t, fs, 1)
	b := fs[0].(*mediaflow.AudioBlock)
	require.Equal(t, "s32", b.SampleFormat)
	require.Equal(t, 2, b.Samples)
	require.Equal(t, int32(-256), int32(binary.LittleEndian.Uint32(b.Data[0])))
	require.Equal(t, int32(1<<30), int32(binary.LittleEndian.Uint32(b.Data[0][4:])))

	_, err = d.Decode(mediaflow.Packet{Data: []byte{0x00}})
	require.True(t, errors.Is(err, mediaflow.ErrTransient))

	d, err = NewDecoder(mediaflow.TrackInfo{Private: Format{BitDepth: 8, Channels: 1, SampleRate: 8000}})
	require.NoError(t, err)
	fs, err = d.Decode(mediaflow.Packet{Data: []byte{128, 192}})
	require.NoError(t, err)
	cs, err := fs[0].(*mediaflow.AudioBlock).Channels64()
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0, 0.5}}, cs)
}
