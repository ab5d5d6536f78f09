package astiavmedia

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

var (
	countDecoder uint64
)

var _ mediaflow.Decoder = (*Decoder)(nil)

type Decoder struct {
	c            *astikit.Closer
	codec        *astiav.Codec
	fp           *pool[*astiav.Frame]
	i            mediaflow.TrackInfo
	lastDuration time.Duration
	name         string
	o            DecoderOptions
	pp           *pool[*astiav.Packet]
	r            decoderReader
	s            Stream
}

type DecoderOptions struct {
	// Returns the name of the libav decoder to use, the default decoder of the codec is used when
	// empty
	Name        func(i mediaflow.TrackInfo) string
	ThreadCount int
	ThreadType  astiav.ThreadType
}

func NewDecoder(i mediaflow.TrackInfo, o DecoderOptions) (d *Decoder, err error) {
	// Get stream
	s, ok := i.Private.(Stream)
	if !ok {
		err = fmt.Errorf("astiavmedia: %s was not created by an astiav demuxer: %w", i, mediaflow.ErrUnsupported)
		return
	}

	// Create decoder
	d = &Decoder{
		c:    astikit.NewCloser(),
		i:    i,
		name: fmt.Sprintf("decoder_%d", atomic.AddUint64(&countDecoder, uint64(1))),
		o:    o,
		s:    s,
	}

	// Create pools
	d.fp = newFramePool(d.c)
	d.pp = newPacketPool(d.c)

	// Make sure to close reader
	d.c.Add(d.closeReader)

	// Find codec
	var name string
	if o.Name != nil {
		name = o.Name(i)
	}
	if name != "" {
		if d.codec = astiav.FindDecoderByName(name); d.codec == nil {
			err = fmt.Errorf("astiavmedia: no decoder found with name %s: %w", name, mediaflow.ErrUnsupported)
			return
		}
	} else if d.codec = astiav.FindDecoder(s.CodecParameters.CodecID()); d.codec == nil {
		err = fmt.Errorf("astiavmedia: no decoder found for codec id %s: %w", s.CodecParameters.CodecID(), mediaflow.ErrUnsupported)
		return
	}

	// Create reader
	if err = d.createReader(); err != nil {
		err = fmt.Errorf("astiavmedia: creating reader failed: %w", err)
		return
	}
	return
}

func (d *Decoder) Close() error {
	return d.c.Close()
}

func (d *Decoder) String() string {
	return d.name
}

func (d *Decoder) createReader() (err error) {
	// Create reader
	r := newDecoderReader(d.codec)
	if r == nil {
		return errors.New("astiavmedia: empty reader")
	}

	// Make sure to free reader on error
	defer func() {
		if err != nil {
			r.Free()
		}
	}()

	// Set thread parameters
	if d.o.ThreadCount > 0 {
		r.SetThreadCount(d.o.ThreadCount)
	}
	if d.o.ThreadType != astiav.ThreadTypeUndefined {
		r.SetThreadType(d.o.ThreadType)
	}

	// Initialize reader with codec parameters
	if err = r.FromCodecParameters(d.s.CodecParameters); err != nil {
		err = fmt.Errorf("astiavmedia: initializing reader with codec parameters failed: %w", err)
		return
	}

	// Open
	if err = r.Open(d.codec, nil); err != nil {
		err = fmt.Errorf("astiavmedia: opening reader failed: %w", err)
		return
	}

	// Store reader
	d.r = r
	classers.set(r, d.name)
	return
}

func (d *Decoder) closeReader() {
	if d.r == nil {
		return
	}
	classers.del(d.r)
	d.r.Free()
	d.r = nil
}

func (d *Decoder) Decode(p mediaflow.Packet) ([]mediaflow.Frame, error) {
	// Get packet from pool
	pkt := d.pp.get()
	defer d.pp.put(pkt)

	// Fill packet
	if err := pkt.FromData(p.Data); err != nil {
		return nil, fmt.Errorf("astiavmedia: filling packet failed: %w", err)
	}
	pts, _ := durationToTimeBase(p.PTS, d.s.TimeBase)
	dts, _ := durationToTimeBase(p.DTS, d.s.TimeBase)
	pkt.SetPts(pts)
	pkt.SetDts(dts)
	pkt.SetStreamIndex(d.s.Index)
	if p.Keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}

	// Store duration
	if p.Duration > 0 {
		d.lastDuration = p.Duration
	}
	return d.decode(pkt)
}

// Flush drains the reader which is then recreated so that it accepts packets again
func (d *Decoder) Flush() ([]mediaflow.Frame, error) {
	// Drain
	fs, err := d.decode(nil)
	if err != nil {
		return nil, err
	}

	// Reset
	if err = d.Reset(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (d *Decoder) Reset() error {
	// Close reader
	d.closeReader()

	// Create reader
	if err := d.createReader(); err != nil {
		return fmt.Errorf("astiavmedia: creating reader failed: %w: %w", mediaflow.ErrUnrecoverable, err)
	}
	d.lastDuration = 0
	return nil
}

func (d *Decoder) decode(pkt *astiav.Packet) (fs []mediaflow.Frame, err error) {
	// No reader
	if d.r == nil {
		return nil, fmt.Errorf("astiavmedia: no reader: %w", mediaflow.ErrUnrecoverable)
	}

	// Send packet
	if err = d.r.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("astiavmedia: sending packet failed: %w: %w", mediaflow.ErrTransient, err)
	}

	// Loop
	for {
		// Receive frame
		f, stop, err := d.receiveFrame()
		if err != nil {
			return nil, err
		}
		if stop {
			return fs, nil
		}
		fs = append(fs, f)
	}
}

func (d *Decoder) receiveFrame() (mf mediaflow.Frame, stop bool, err error) {
	// Get frame
	f := d.fp.get()
	defer d.fp.put(f)

	// Receive frame
	if err = d.r.ReceiveFrame(f); err != nil {
		if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
			err = nil
			stop = true
			return
		}
		err = fmt.Errorf("astiavmedia: receiving frame failed: %w: %w", mediaflow.ErrTransient, err)
		return
	}

	// Convert
	switch d.i.MediaType {
	case mediaflow.MediaTypeAudio:
		mf, err = d.audioBlock(f)
	default:
		mf, err = d.videoFrame(f)
	}
	return
}

func (d *Decoder) videoFrame(f *astiav.Frame) (*mediaflow.VideoFrame, error) {
	// Get data
	b, err := f.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("astiavmedia: getting frame data failed: %w", err)
	}

	// Get duration
	dr := d.lastDuration
	if fr := d.s.FrameRate; fr.Num() > 0 && fr.Den() > 0 {
		dr = time.Duration(float64(time.Second) * float64(fr.Den()) / float64(fr.Num()))
	}

	return &mediaflow.VideoFrame{
		Data:        [][]byte{b},
		Height:      f.Height(),
		PixelFormat: f.PixelFormat().String(),
		Timing: mediaflow.Timing{
			Duration: dr,
			PTS:      d.framePTS(f),
		},
		Width: f.Width(),
	}, nil
}

func (d *Decoder) audioBlock(f *astiav.Frame) (*mediaflow.AudioBlock, error) {
	// Get data
	b, err := f.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("astiavmedia: getting frame data failed: %w", err)
	}

	// Get duration
	var dr time.Duration
	if f.SampleRate() > 0 {
		dr = time.Duration(f.NbSamples()) * time.Second / time.Duration(f.SampleRate())
	}

	// Planar sample formats are suffixed with "p" and their planes are contiguous
	sf := f.SampleFormat().String()
	cs := f.ChannelLayout().Channels()
	planar := strings.HasSuffix(sf, "p")
	data := [][]byte{b}
	if planar && cs > 1 && len(b)%cs == 0 {
		data = make([][]byte, cs)
		for i := range data {
			data[i] = b[i*len(b)/cs : (i+1)*len(b)/cs]
		}
	}

	return &mediaflow.AudioBlock{
		Channels:     cs,
		Data:         data,
		Planar:       planar,
		SampleFormat: sf,
		SampleRate:   f.SampleRate(),
		Samples:      f.NbSamples(),
		Timing: mediaflow.Timing{
			Duration: dr,
			PTS:      d.framePTS(f),
		},
	}, nil
}

func (d *Decoder) framePTS(f *astiav.Frame) time.Duration {
	if f.Pts() == astiav.NoPtsValue {
		return 0
	}
	return timeBaseToDuration(f.Pts(), d.s.TimeBase)
}

type decoderReader interface {
	Class() *astiav.Class
	Free()
	FromCodecParameters(cp *astiav.CodecParameters) error
	Open(c *astiav.Codec, d *astiav.Dictionary) error
	ReceiveFrame(f *astiav.Frame) error
	SendPacket(p *astiav.Packet) error
	SetThreadCount(int)
	SetThreadType(astiav.ThreadType)
}

var newDecoderReader = func(c *astiav.Codec) decoderReader {
	return astiav.AllocCodecContext(c)
}
