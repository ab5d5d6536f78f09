package wavmedia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var _ mediaflow.Demuxer = (*Demuxer)(nil)

type Demuxer struct {
	buf      *audio.IntBuffer
	d        *wav.Decoder
	f        Format
	m        sync.Mutex // Locks everything
	o        DemuxerOptions
	position int // In frames
	rs       *contextReadSeeker
}

type DemuxerOptions struct {
	// Duration of the packets, defaults to 20ms
	PacketDuration time.Duration
}

func NewDemuxer(o DemuxerOptions) *Demuxer {
	if o.PacketDuration <= 0 {
		o.PacketDuration = 20 * time.Millisecond
	}
	return &Demuxer{o: o}
}

// Open reads the whole source in memory unless it is seekable
func (d *Demuxer) Open(ctx context.Context, r mediaflow.SourceReader) ([]mediaflow.TrackInfo, error) {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Create read seeker
	d.rs = &contextReadSeeker{ctx: ctx}
	if rs, ok := r.(mediaflow.ReadSeekSourceReader); ok {
		d.rs.r = rs
	} else {
		b, err := mediaflow.ReadAll(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("wavmedia: reading source failed: %w", err)
		}
		d.rs.r = mediaflow.NewBufferReader(b).(mediaflow.ReadSeekSourceReader)
	}

	// Create decoder
	d.d = wav.NewDecoder(d.rs)
	if !d.d.IsValidFile() {
		return nil, fmt.Errorf("wavmedia: invalid wav file: %w", mediaflow.ErrUnsupported)
	}

	// Only pcm is supported
	if d.d.WavAudioFormat != 1 {
		return nil, fmt.Errorf("wavmedia: audio format %d: %w", d.d.WavAudioFormat, mediaflow.ErrUnsupported)
	}

	// Move to pcm data
	if err := d.d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wavmedia: moving to pcm data failed: %w", err)
	}

	// Store format
	d.f = Format{
		BitDepth:   int(d.d.BitDepth),
		Channels:   int(d.d.NumChans),
		SampleRate: int(d.d.SampleRate),
	}
	if d.f.frameSize() <= 0 || d.f.SampleRate <= 0 {
		return nil, fmt.Errorf("wavmedia: invalid format %+v: %w", d.f, mediaflow.ErrUnsupported)
	}

	// Create buffer
	d.buf = &audio.IntBuffer{
		Data:           make([]int, d.framesPerPacket()*d.f.Channels),
		Format:         &audio.Format{NumChannels: d.f.Channels, SampleRate: d.f.SampleRate},
		SourceBitDepth: d.f.BitDepth,
	}

	return []mediaflow.TrackInfo{{
		Channels:   d.f.Channels,
		Codec:      d.f.codec(),
		Duration:   d.framesToDuration(d.d.PCMSize / d.f.frameSize()),
		MediaType:  mediaflow.MediaTypeAudio,
		Private:    d.f,
		SampleRate: d.f.SampleRate,
	}}, nil
}

func (d *Demuxer) framesPerPacket() int {
	if n := int(d.o.PacketDuration.Seconds() * float64(d.f.SampleRate)); n > 0 {
		return n
	}
	return 1
}

func (d *Demuxer) framesToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(d.f.SampleRate)
}

func (d *Demuxer) NextPacket(ctx context.Context) (mediaflow.Packet, error) {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Read
	d.rs.ctx = ctx
	n, err := d.d.PCMBuffer(d.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return mediaflow.Packet{}, ctx.Err()
		}
		return mediaflow.Packet{}, fmt.Errorf("wavmedia: reading pcm buffer failed: %w", err)
	}

	// Only full frames are kept
	frames := n / d.f.Channels
	if frames == 0 {
		return mediaflow.Packet{}, mediaflow.ErrEndOfStream
	}

	// Create packet
	p := mediaflow.Packet{
		Data:     encodeSamples(d.buf.Data[:frames*d.f.Channels], d.f.BitDepth),
		Duration: d.framesToDuration(frames),
		Keyframe: true,
		PTS:      d.framesToDuration(d.position),
	}
	p.DTS = p.PTS

	// Update position
	d.position += frames
	return p, nil
}

// Seek is always exact since every pcm frame is a keyframe
func (d *Demuxer) Seek(ctx context.Context, t time.Duration, m mediaflow.SeekMode) error {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Rewind
	d.rs.ctx = ctx
	if err := d.d.Rewind(); err != nil {
		return fmt.Errorf("wavmedia: rewinding failed: %w", err)
	}
	d.position = 0

	// Skip frames
	target := int(t.Seconds() * float64(d.f.SampleRate))
	buf := &audio.IntBuffer{
		Data:           make([]int, len(d.buf.Data)),
		Format:         d.buf.Format,
		SourceBitDepth: d.f.BitDepth,
	}
	for d.position < target {
		// Buffer is sized so that it never reads beyond target
		buf.Data = buf.Data[:min(target-d.position, d.framesPerPacket())*d.f.Channels]

		// Read
		n, err := d.d.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("wavmedia: reading pcm buffer failed: %w", err)
		}

		// End of stream
		if n/d.f.Channels == 0 {
			break
		}
		d.position += n / d.f.Channels
	}
	return nil
}

func encodeSamples(s []int, bitDepth int) []byte {
	var b bytes.Buffer
	b.Grow(len(s) * bitDepth / 8)
	for _, v := range s {
		switch bitDepth {
		case 8:
			b.WriteByte(byte(v))
		case 16:
			b.Write([]byte{byte(v), byte(v >> 8)})
		case 24:
			b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16)})
		default:
			b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
		}
	}
	return b.Bytes()
}

var _ io.ReadSeeker = (*contextReadSeeker)(nil)

// contextReadSeeker adapts a source reader to the io.ReadSeeker the wav decoder expects
type contextReadSeeker struct {
	ctx context.Context
	r   mediaflow.ReadSeekSourceReader
}

func (rs *contextReadSeeker) Read(b []byte) (int, error) {
	p, err := rs.r.Read(rs.ctx, len(b))
	if err != nil {
		if errors.Is(err, mediaflow.ErrEndOfStream) {
			return 0, io.EOF
		}
		return 0, err
	}
	return copy(b, p), nil
}

func (rs *contextReadSeeker) Seek(offset int64, whence int) (int64, error) {
	return rs.r.Seek(offset, whence)
}
