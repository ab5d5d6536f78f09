package astiavmedia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

var (
	countDemuxer uint64
)

var (
	_ mediaflow.Demuxer = (*Demuxer)(nil)
	_ io.Closer         = (*Demuxer)(nil)
)

type Demuxer struct {
	c         *astikit.Closer
	cs        *demuxerCumulativeStats
	ii        astiav.IOInterrupter
	m         sync.Mutex // Locks r, readCtx, sr and startTime
	name      string
	o         DemuxerOptions
	pp        *pool[*astiav.Packet]
	r         demuxerReader
	readCtx   context.Context
	sr        mediaflow.SourceReader
	ss        map[int]Stream // Indexed by stream index
	startTime time.Duration
}

type DemuxerOptions struct {
	Dictionary DictionaryOptions
	// Input format name, probed when empty
	Format string
	// Defaults to 32KiB
	IOBufferSize int
}

func NewDemuxer(o DemuxerOptions) (d *Demuxer) {
	// Create demuxer
	d = &Demuxer{
		c:    astikit.NewCloser(),
		cs:   &demuxerCumulativeStats{},
		name: fmt.Sprintf("demuxer_%d", atomic.AddUint64(&countDemuxer, uint64(1))),
		o:    o,
		ss:   make(map[int]Stream),
	}

	// Create packet pool
	d.pp = newPacketPool(d.c)

	// Create reader
	d.r = newDemuxerReader()
	d.c.Add(d.r.Free)

	// Store reader
	classers.set(d.r, d.name)
	d.c.Add(func() { classers.del(d.r) })

	// Set interrupt callback
	d.ii = d.r.SetInterruptCallback()
	return
}

func (d *Demuxer) Close() error {
	return d.c.Close()
}

func (d *Demuxer) String() string {
	return d.name
}

// interruptOnDone makes sure blocking libav calls return as soon as ctx is done
func (d *Demuxer) interruptOnDone(ctx context.Context) (stop func() bool) {
	d.ii.Resume()
	return context.AfterFunc(ctx, d.ii.Interrupt)
}

func (d *Demuxer) Open(ctx context.Context, sr mediaflow.SourceReader) (ts []mediaflow.TrackInfo, err error) {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Dictionary
	var dict *dictionary
	if dict, err = d.o.Dictionary.dictionary(); err != nil {
		err = fmt.Errorf("astiavmedia: creating dictionary failed: %w", err)
		return
	}
	defer dict.close()

	// Input format
	var f *astiav.InputFormat
	if d.o.Format != "" {
		if f = astiav.FindInputFormat(d.o.Format); f == nil {
			err = fmt.Errorf("astiavmedia: no input format named %s: %w", d.o.Format, mediaflow.ErrUnsupported)
			return
		}
	}

	// Make sure to interrupt libav when context is done
	defer d.interruptOnDone(ctx)()

	// Libav reads the url itself
	var url string
	if ur, ok := sr.(*urlReader); ok {
		url = ur.url
	} else {
		// Create io context
		var ioc *astiav.IOContext
		if ioc, err = d.newIOContext(sr); err != nil {
			err = fmt.Errorf("astiavmedia: creating io context failed: %w", err)
			return
		}
		d.c.Add(ioc.Free)

		// Update
		d.readCtx = ctx
		d.sr = sr
		d.r.SetPb(ioc)
		classers.set(ioc, d.name)
		d.c.Add(func() { classers.del(ioc) })
	}

	// Open input
	if err = d.r.OpenInput(url, f, dict.Dictionary); err != nil {
		err = d.processError(ctx, "opening input", err)
		return
	}
	d.c.Add(d.r.CloseInput)

	// Find stream information
	if err = d.r.FindStreamInfo(nil); err != nil {
		err = d.processError(ctx, "finding stream info", err)
		return
	}

	// Start time is expressed in AV_TIME_BASE
	if st := d.r.StartTime(); st != astiav.NoPtsValue && st > 0 {
		d.startTime = time.Duration(st) * time.Microsecond
	}

	// Loop through streams
	for _, s := range d.r.Streams() {
		// Create stream
		st := newStream(s)

		// Only audio and video streams are handled
		i := st.trackInfo()
		if i.MediaType == mediaflow.MediaTypeUnknown {
			continue
		}

		// Store stream
		d.ss[st.Index] = st
		ts = append(ts, i)
	}

	// Sort tracks
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
	return
}

func (d *Demuxer) newIOContext(sr mediaflow.SourceReader) (*astiav.IOContext, error) {
	// Buffer size
	bs := d.o.IOBufferSize
	if bs <= 0 {
		bs = 32 * 1024
	}

	// Seek func
	var seek func(offset int64, whence int) (int64, error)
	if s, ok := sr.(mediaflow.ReadSeekSourceReader); ok {
		seek = s.Seek
	}
	return astiav.AllocIOContext(bs, false, d.read, seek, nil)
}

// read is called by libav while the mutex is locked
func (d *Demuxer) read(b []byte) (int, error) {
	// Read
	p, err := d.sr.Read(d.readCtx, len(b))
	if err != nil {
		if errors.Is(err, mediaflow.ErrEndOfStream) {
			return 0, astiav.ErrEof
		}
		return 0, err
	}

	// Increment incoming bytes
	atomic.AddUint64(&d.cs.incomingBytes, uint64(len(p)))
	return copy(b, p), nil
}

func (d *Demuxer) processError(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("astiavmedia: %s failed: %w", action, ctx.Err())
	}
	return fmt.Errorf("astiavmedia: %s failed: %w", action, err)
}

// NextPacket skips packets whose stream is neither audio nor video
func (d *Demuxer) NextPacket(ctx context.Context) (mediaflow.Packet, error) {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Update read context
	d.readCtx = ctx

	// Make sure to interrupt libav when context is done
	defer d.interruptOnDone(ctx)()

	// Get packet from pool
	pkt := d.pp.get()
	defer d.pp.put(pkt)

	for {
		// Read frame
		if err := d.r.ReadFrame(pkt); err != nil {
			switch {
			case errors.Is(err, astiav.ErrEof):
				return mediaflow.Packet{}, mediaflow.ErrEndOfStream
			case ctx.Err() != nil:
				return mediaflow.Packet{}, ctx.Err()
			case errors.Is(err, astiav.ErrEagain):
				return mediaflow.Packet{}, fmt.Errorf("astiavmedia: reading frame failed: %w: %w", mediaflow.ErrTransient, err)
			default:
				return mediaflow.Packet{}, fmt.Errorf("astiavmedia: reading frame failed: %w", err)
			}
		}

		// Get stream
		s, ok := d.ss[pkt.StreamIndex()]
		if !ok {
			pkt.Unref()
			continue
		}

		// Increment incoming packets
		atomic.AddUint64(&d.cs.incomingPackets, 1)
		return d.packet(pkt, s), nil
	}
}

func (d *Demuxer) packet(pkt *astiav.Packet, s Stream) mediaflow.Packet {
	// Get timestamps
	dts, pts := pkt.Dts(), pkt.Pts()
	if pts == astiav.NoPtsValue {
		pts = dts
	}
	if dts == astiav.NoPtsValue {
		dts = pts
	}

	// Timestamps are relative to the input's start time
	return mediaflow.Packet{
		DTS:      timeBaseToDuration(dts, s.TimeBase) - d.startTime,
		Data:     pkt.Data(),
		Duration: timeBaseToDuration(pkt.Duration(), s.TimeBase),
		Keyframe: pkt.Flags().Has(astiav.PacketFlagKey),
		PTS:      timeBaseToDuration(pts, s.TimeBase) - d.startTime,
		TrackID:  mediaflow.TrackID(s.Index),
	}
}

// Seek always lands on a keyframe, exact positioning is done by the pipeline
func (d *Demuxer) Seek(ctx context.Context, t time.Duration, m mediaflow.SeekMode) error {
	// Lock
	d.m.Lock()
	defer d.m.Unlock()

	// Update read context
	d.readCtx = ctx

	// Make sure to interrupt libav when context is done
	defer d.interruptOnDone(ctx)()

	// Seek
	ts := (t + d.startTime).Microseconds()
	if err := d.r.SeekFrame(-1, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return d.processError(ctx, "seeking", err)
	}
	return nil
}

type DemuxerCumulativeStats struct {
	AllocatedPackets uint64
	IncomingBytes    uint64
	IncomingPackets  uint64
}

type demuxerCumulativeStats struct {
	incomingBytes   uint64
	incomingPackets uint64
}

func (d *Demuxer) CumulativeStats() DemuxerCumulativeStats {
	return DemuxerCumulativeStats{
		AllocatedPackets: atomic.LoadUint64(&d.pp.allocated),
		IncomingBytes:    atomic.LoadUint64(&d.cs.incomingBytes),
		IncomingPackets:  atomic.LoadUint64(&d.cs.incomingPackets),
	}
}

func (d *Demuxer) DeltaStats() []astikit.DeltaStat {
	return []astikit.DeltaStat{
		d.pp.deltaStat(),
		{
			Metadata: astikit.DeltaStatMetadata{
				Description: "Number of bytes read by libav per second",
				Label:       "Demuxer byte rate",
				Name:        DeltaStatNameDemuxerByteRate,
				Unit:        "Bps",
			},
			Valuer: astikit.NewAtomicUint64RateDeltaStat(&d.cs.incomingBytes),
		},
	}
}

type demuxerReader interface {
	Class() *astiav.Class
	CloseInput()
	FindStreamInfo(d *astiav.Dictionary) error
	Free()
	OpenInput(url string, fmt *astiav.InputFormat, d *astiav.Dictionary) error
	ReadFrame(p *astiav.Packet) error
	SeekFrame(streamIndex int, timestamp int64, f astiav.SeekFlags) error
	SetInterruptCallback() astiav.IOInterrupter
	SetPb(i *astiav.IOContext)
	StartTime() int64
	Streams() []*astiav.Stream
}

var newDemuxerReader = func() demuxerReader {
	return astiav.AllocFormatContext()
}
