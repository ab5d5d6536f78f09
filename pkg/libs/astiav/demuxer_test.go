package astiavmedia

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

var _ astiav.IOInterrupter = (*mockedIOInterrupter)(nil)

type mockedIOInterrupter struct {
	cancel      context.CancelFunc
	ctx         context.Context
	interrupted bool
	m           sync.Mutex
}

func newMockedIOInterrupter() *mockedIOInterrupter {
	ii := &mockedIOInterrupter{}
	ii.Resume()
	return ii
}

func (ii *mockedIOInterrupter) close() {
	ii.m.Lock()
	defer ii.m.Unlock()
	ii.cancel()
}

func (ii *mockedIOInterrupter) context() context.Context {
	ii.m.Lock()
	defer ii.m.Unlock()
	return ii.ctx
}

func (ii *mockedIOInterrupter) Interrupt() {
	ii.m.Lock()
	defer ii.m.Unlock()
	ii.interrupted = true
	ii.cancel()
}

func (ii *mockedIOInterrupter) Resume() {
	ii.m.Lock()
	defer ii.m.Unlock()
	if ii.cancel != nil {
		ii.cancel()
	}
	ii.interrupted = false
	ii.ctx, ii.cancel = context.WithTimeout(context.Background(), time.Second)
}

var _ demuxerReader = (*mockedDemuxerReader)(nil)

type mockedDemuxerReader struct {
	findStreamInfoFunc       func() error
	freed                    bool
	ii                       *mockedIOInterrupter
	inputClosed              bool
	openInputDictionaryValue string
	openInputFmt             *astiav.InputFormat
	openInputFunc            func() error
	openInputURL             string
	pb                       *astiav.IOContext
	previous                 func() demuxerReader
	readFrameFunc            func(p *astiav.Packet) error
	seekFrameFlags           astiav.SeekFlags
	seekFrameStreamIndex     int
	seekFrameTimestamp       int64
	startTime                int64
	streamInfoFound          bool
	streams                  []*astiav.Stream
}

func newMockedDemuxerReader(t *testing.T) *mockedDemuxerReader {
	r := &mockedDemuxerReader{
		previous:  newDemuxerReader,
		startTime: astiav.NoPtsValue,
	}
	newDemuxerReader = func() demuxerReader { return r }
	return r
}

func (r *mockedDemuxerReader) close() {
	if r.ii != nil {
		r.ii.close()
	}
	newDemuxerReader = r.previous
}

func (r *mockedDemuxerReader) Class() *astiav.Class {
	return nil
}

func (r *mockedDemuxerReader) CloseInput() {
	r.inputClosed = true
}

func (r *mockedDemuxerReader) FindStreamInfo(d *astiav.Dictionary) error {
	if r.findStreamInfoFunc != nil {
		if err := r.findStreamInfoFunc(); err != nil {
			return err
		}
	}
	r.streamInfoFound = true
	return nil
}

func (r *mockedDemuxerReader) Free() {
	r.freed = true
}

func (r *mockedDemuxerReader) OpenInput(url string, fmt *astiav.InputFormat, d *astiav.Dictionary) error {
	if r.openInputFunc != nil {
		if err := r.openInputFunc(); err != nil {
			return err
		}
	}
	if d != nil {
		r.openInputDictionaryValue = d.Get("k", nil, astiav.NewDictionaryFlags()).Value()
	}
	r.openInputFmt = fmt
	r.openInputURL = url
	return nil
}

func (r *mockedDemuxerReader) ReadFrame(p *astiav.Packet) error {
	return r.readFrameFunc(p)
}

func (r *mockedDemuxerReader) SeekFrame(streamIndex int, timestamp int64, f astiav.SeekFlags) error {
	r.seekFrameFlags = f
	r.seekFrameStreamIndex = streamIndex
	r.seekFrameTimestamp = timestamp
	return nil
}

func (r *mockedDemuxerReader) SetInterruptCallback() astiav.IOInterrupter {
	r.ii = newMockedIOInterrupter()
	return r.ii
}

func (r *mockedDemuxerReader) SetPb(i *astiav.IOContext) {
	r.pb = i
}

func (r *mockedDemuxerReader) StartTime() int64 {
	return r.startTime
}

func (r *mockedDemuxerReader) Streams() []*astiav.Stream {
	return r.streams
}

func newTestStreams(t *testing.T) []*astiav.Stream {
	fc := astiav.AllocFormatContext()
	t.Cleanup(fc.Free)
	s0 := fc.NewStream(nil)
	s0.SetIndex(0)
	s0.SetTimeBase(astiav.NewRational(1, 1000))
	s0.CodecParameters().SetCodecID(astiav.CodecIDH264)
	s0.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
	s1 := fc.NewStream(nil)
	s1.SetIndex(1)
	s1.SetTimeBase(astiav.NewRational(1, 48000))
	s1.CodecParameters().SetMediaType(astiav.MediaTypeAudio)
	s1.CodecParameters().SetSampleRate(48000)
	s2 := fc.NewStream(nil)
	s2.SetIndex(2)
	s2.CodecParameters().SetMediaType(astiav.MediaTypeData)
	return []*astiav.Stream{s0, s1, s2}
}

func TestNewDemuxer(t *testing.T) {
	r := newMockedDemuxerReader(t)
	defer r.close()
	countDemuxer = 0
	d := NewDemuxer(DemuxerOptions{})
	require.Equal(t, "demuxer_1", d.String())
	n, ok := classers.get(r)
	require.True(t, ok)
	require.Equal(t, "demuxer_1", n)
	require.NoError(t, d.Close())
	require.True(t, r.freed)
	_, ok = classers.get(r)
	require.False(t, ok)
}

func TestDemuxerOpen(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		r := newMockedDemuxerReader(t)
		defer r.close()
		r.streams = newTestStreams(t)
		d := NewDemuxer(DemuxerOptions{
			Dictionary: NewCommaDictionaryOptions("k=v"),
			Format:     "mp4",
		})
		defer d.Close()

		is, err := d.Open(context.Background(), mediaflow.NewBufferReader([]byte("data")))
		require.NoError(t, err)
		require.Equal(t, "v", r.openInputDictionaryValue)
		require.Equal(t, astiav.FindInputFormat("mp4"), r.openInputFmt)
		require.Equal(t, "", r.openInputURL)
		require.NotNil(t, r.pb)
		n, ok := classers.get(r.pb)
		require.True(t, ok)
		require.Equal(t, d.String(), n)
		require.True(t, r.streamInfoFound)
		require.Len(t, is, 2)
		require.Equal(t, mediaflow.TrackID(0), is[0].ID)
		require.Equal(t, mediaflow.MediaTypeVideo, is[0].MediaType)
		require.Equal(t, mediaflow.TrackID(1), is[1].ID)
		require.Equal(t, mediaflow.MediaTypeAudio, is[1].MediaType)
		require.Equal(t, 48000, is[1].SampleRate)
		require.Eventually(t, func() bool {
			r.ii.m.Lock()
			defer r.ii.m.Unlock()
			return !r.ii.interrupted
		}, time.Second, 10*time.Millisecond)

		pb := r.pb
		require.NoError(t, d.Close())
		require.True(t, r.inputClosed)
		_, ok = classers.get(pb)
		require.False(t, ok)
	})

	t.Run("url", func(t *testing.T) {
		r := newMockedDemuxerReader(t)
		defer r.close()
		d := NewDemuxer(DemuxerOptions{})
		defer d.Close()
		_, err := d.Open(context.Background(), &urlReader{url: "rtmp://host/app"})
		require.NoError(t, err)
		require.Equal(t, "rtmp://host/app", r.openInputURL)
		require.Nil(t, r.pb)
		require.Nil(t, r.openInputFmt)
	})

	t.Run("invalid format", func(t *testing.T) {
		r := newMockedDemuxerReader(t)
		defer r.close()
		d := NewDemuxer(DemuxerOptions{Format: "invalid"})
		defer d.Close()
		_, err := d.Open(context.Background(), mediaflow.NewBufferReader(nil))
		require.True(t, errors.Is(err, mediaflow.ErrUnsupported))
	})

	t.Run("context error", func(t *testing.T) {
		r := newMockedDemuxerReader(t)
		defer r.close()
		r.openInputFunc = func() error {
			<-r.ii.context().Done()
			return errors.New("interrupted")
		}
		d := NewDemuxer(DemuxerOptions{})
		defer d.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		_, err := d.Open(ctx, mediaflow.NewBufferReader([]byte("data")))
		require.Error(t, err)
		require.True(t, errors.Is(err, context.DeadlineExceeded))
		require.False(t, r.inputClosed)
	})

	t.Run("find stream info error", func(t *testing.T) {
		r := newMockedDemuxerReader(t)
		defer r.close()
		r.findStreamInfoFunc = func() error { return astiav.ErrInvaliddata }
		d := NewDemuxer(DemuxerOptions{})
		defer d.Close()
		_, err := d.Open(context.Background(), mediaflow.NewBufferReader([]byte("data")))
		require.True(t, errors.Is(err, astiav.ErrInvaliddata))
	})
}

func TestDemuxerRead(t *testing.T) {
	r := newMockedDemuxerReader(t)
	defer r.close()
	d := NewDemuxer(DemuxerOptions{})
	defer d.Close()
	d.readCtx = context.Background()
	d.sr = mediaflow.NewBufferReader([]byte("abc"))
	b := make([]byte, 2)
	n, err := d.read(b)
	require.NoError(t, err)
	require.Equal(t, "ab", string(b[:n]))
	n, err = d.read(b)
	require.NoError(t, err)
	require.Equal(t, "c", string(b[:n]))
	_, err = d.read(b)
	require.True(t, errors.Is(err, astiav.ErrEof))
	require.Equal(t, uint64(3), d.CumulativeStats().IncomingBytes)
}

func TestDemuxerNextPacket(t *testing.T) {
	r := newMockedDemuxerReader(t)
	defer r.close()
	r.streams = newTestStreams(t)
	r.startTime = 1e6
	count := 0
	r.readFrameFunc = func(p *astiav.Packet) error {
		count++
		switch count {
		case 1:
			require.NoError(t, p.FromData([]byte{1}))
			p.SetStreamIndex(2)
		case 2:
			require.NoError(t, p.FromData([]byte{2}))
			p.SetDts(1400)
			p.SetDuration(40)
			p.SetFlags(astiav.NewPacketFlags(astiav.PacketFlagKey))
			p.SetPts(1500)
			p.SetStreamIndex(0)
		case 3:
			require.NoError(t, p.FromData([]byte{3}))
			p.SetDuration(960)
			p.SetPts(96000)
			p.SetDts(astiav.NoPtsValue)
			p.SetStreamIndex(1)
		case 4:
			return astiav.ErrEagain
		default:
			return astiav.ErrEof
		}
		return nil
	}
	d := NewDemuxer(DemuxerOptions{})
	defer d.Close()
	_, err := d.Open(context.Background(), mediaflow.NewBufferReader([]byte("data")))
	require.NoError(t, err)

	p, err := d.NextPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, mediaflow.Packet{
		DTS:      400 * time.Millisecond,
		Data:     []byte{2},
		Duration: 40 * time.Millisecond,
		Keyframe: true,
		PTS:      500 * time.Millisecond,
		TrackID:  0,
	}, p)
	p, err = d.NextPacket(context.Background())
	require.NoError(t, err)
	require.Equal(t, mediaflow.Packet{
		DTS:      time.Second,
		Data:     []byte{3},
		Duration: 20 * time.Millisecond,
		PTS:      time.Second,
		TrackID:  1,
	}, p)
	_, err = d.NextPacket(context.Background())
	require.True(t, errors.Is(err, mediaflow.ErrTransient))
	_, err = d.NextPacket(context.Background())
	require.True(t, errors.Is(err, mediaflow.ErrEndOfStream))
	require.Equal(t, uint64(2), d.CumulativeStats().IncomingPackets)
	require.Equal(t, uint64(1), d.CumulativeStats().AllocatedPackets)
}

func TestDemuxerSeek(t *testing.T) {
	r := newMockedDemuxerReader(t)
	defer r.close()
	r.startTime = 2e6
	d := NewDemuxer(DemuxerOptions{})
	defer d.Close()
	_, err := d.Open(context.Background(), mediaflow.NewBufferReader([]byte("data")))
	require.NoError(t, err)
	require.NoError(t, d.Seek(context.Background(), 1500*time.Millisecond, mediaflow.SeekModeExact))
	require.Equal(t, -1, r.seekFrameStreamIndex)
	require.Equal(t, int64(3500000), r.seekFrameTimestamp)
	require.Equal(t, astiav.NewSeekFlags(astiav.SeekFlagBackward), r.seekFrameFlags)
}
