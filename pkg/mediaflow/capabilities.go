package mediaflow

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// SourceReader must return ErrEndOfStream once the source is exhausted and must return as soon
// as ctx is done
type SourceReader interface {
	Read(ctx context.Context, max int) ([]byte, error)
}

// Demuxer must return packets of a track in decode order and ErrEndOfStream once the source is
// exhausted
type Demuxer interface {
	Open(ctx context.Context, r SourceReader) ([]TrackInfo, error)
	NextPacket(ctx context.Context) (Packet, error)
	// Seek repositions to the nearest keyframe at or before t
	Seek(ctx context.Context, t time.Duration, m SeekMode) error
}

// Decoder is never called concurrently. Decode may return zero or more frames per packet.
type Decoder interface {
	Decode(p Packet) ([]Frame, error)
	// Flush drains buffered frames
	Flush() ([]Frame, error)
	Reset() error
}

type VideoSink interface {
	Display(ctx context.Context, f *VideoFrame) error
}

// AudioSink reports the PTS of the last sample it actually played. After a flush, it must
// report false until blocks enqueued after the flush are played.
type AudioSink interface {
	AudioPositioner
	Enqueue(ctx context.Context, b *AudioBlock) error
}

type AudioSinkPauser interface {
	Pause()
	Resume()
}

type AudioSinkFlusher interface {
	Flush()
}

type DemuxerCapability struct {
	Accepts func(s Source) bool
	Name    string
	New     func(s Source) (Demuxer, error)
}

type DecoderCapability struct {
	Accepts func(i TrackInfo) bool
	Name    string
	New     func(i TrackInfo) (Decoder, error)
}

type SourceCapability struct {
	Name    string
	Open    func(ctx context.Context, s Source) (SourceReader, error)
	Schemes []string
}

// Capabilities is the registry of demuxers, decoders and source readers. Resolution follows
// registration order.
type Capabilities struct {
	decoders []DecoderCapability
	demuxers []DemuxerCapability
	m        sync.Mutex
	sources  []SourceCapability
}

func NewCapabilities() *Capabilities {
	return &Capabilities{}
}

func (c *Capabilities) RegisterDecoder(i DecoderCapability) {
	c.m.Lock()
	defer c.m.Unlock()
	c.decoders = append(c.decoders, i)
}

func (c *Capabilities) RegisterDemuxer(i DemuxerCapability) {
	c.m.Lock()
	defer c.m.Unlock()
	c.demuxers = append(c.demuxers, i)
}

func (c *Capabilities) RegisterSource(i SourceCapability) {
	c.m.Lock()
	defer c.m.Unlock()
	c.sources = append(c.sources, i)
}

func (c *Capabilities) Names() (decoders, demuxers, sources []string) {
	c.m.Lock()
	defer c.m.Unlock()
	for _, v := range c.decoders {
		decoders = append(decoders, v.Name)
	}
	for _, v := range c.demuxers {
		demuxers = append(demuxers, v.Name)
	}
	for _, v := range c.sources {
		sources = append(sources, v.Name)
	}
	return
}

func (c *Capabilities) NewDemuxer(s Source) (Demuxer, error) {
	// Copy
	c.m.Lock()
	demuxers := slices.Clone(c.demuxers)
	c.m.Unlock()

	// Loop through demuxers
	for _, v := range demuxers {
		if v.Accepts != nil && !v.Accepts(s) {
			continue
		}
		d, err := v.New(s)
		if err != nil {
			return nil, fmt.Errorf("mediaflow: creating %s demuxer failed: %w", v.Name, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("mediaflow: no demuxer for %s: %w", s, ErrUnsupported)
}

func (c *Capabilities) NewDecoder(i TrackInfo) (Decoder, error) {
	// Copy
	c.m.Lock()
	decoders := slices.Clone(c.decoders)
	c.m.Unlock()

	// Loop through decoders
	for _, v := range decoders {
		if v.Accepts != nil && !v.Accepts(i) {
			continue
		}
		d, err := v.New(i)
		if err != nil {
			return nil, fmt.Errorf("mediaflow: creating %s decoder for %s failed: %w", v.Name, i, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("mediaflow: no decoder for %s: %w", i, ErrUnsupported)
}

// OpenSource returns the source's reader if any, an in-memory reader if the source has data, the
// reader of the first source capability handling the url scheme, or a file reader
func (c *Capabilities) OpenSource(ctx context.Context, s Source) (SourceReader, error) {
	// Reader
	if s.Reader != nil {
		return s.Reader, nil
	}

	// Data
	if s.Data != nil {
		return NewBufferReader(s.Data), nil
	}

	// Parse url
	if s.URL == "" {
		return nil, fmt.Errorf("mediaflow: empty source: %w", ErrUnsupported)
	}
	var scheme string
	if u, err := url.Parse(s.URL); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}

	// Copy
	c.m.Lock()
	sources := slices.Clone(c.sources)
	c.m.Unlock()

	// Loop through sources
	for _, v := range sources {
		if !slices.Contains(v.Schemes, scheme) {
			continue
		}
		r, err := v.Open(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("mediaflow: opening %s source %s failed: %w", v.Name, s.URL, err)
		}
		return r, nil
	}

	// File
	if scheme == "" || scheme == "file" || len(scheme) == 1 {
		r, err := OpenFile(strings.TrimPrefix(s.URL, "file://"))
		if err != nil {
			return nil, fmt.Errorf("mediaflow: opening file %s failed: %w", s.URL, err)
		}
		return r, nil
	}
	return nil, fmt.Errorf("mediaflow: no source for scheme %s: %w", scheme, ErrUnsupported)
}
