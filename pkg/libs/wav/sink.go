package wavmedia

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	_ mediaflow.AudioSink        = (*Sink)(nil)
	_ mediaflow.AudioSinkFlusher = (*Sink)(nil)
	_ io.Closer                  = (*Sink)(nil)
)

// Sink records audio blocks in a 16 bits pcm wav file. Its format is set by the first block.
type Sink struct {
	c        *astikit.Closer
	e        *wav.Encoder
	f        Format
	m        sync.Mutex // Locks everything
	o        SinkOptions
	position time.Duration
	ok       bool
	w        io.WriteSeeker
}

type SinkOptions struct {
	// When true, Enqueue returns once the block's duration has elapsed so that the pipeline clock
	// follows real time
	RealTime bool
}

func NewSink(w io.WriteSeeker, o SinkOptions) *Sink {
	return &Sink{
		c: astikit.NewCloser(),
		o: o,
		w: w,
	}
}

// NewFileSink creates the file at path, which is closed with the sink
func NewFileSink(path string, o SinkOptions) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavmedia: creating %s failed: %w", path, err)
	}
	s := NewSink(f, o)
	s.c.AddWithError(f.Close)
	return s, nil
}

// Close finalizes the wav headers
func (s *Sink) Close() error {
	return s.c.Close()
}

func (s *Sink) Enqueue(ctx context.Context, b *mediaflow.AudioBlock) error {
	// Get samples
	cs, err := b.Channels64()
	if err != nil {
		return fmt.Errorf("wavmedia: getting samples failed: %w", err)
	}

	// Write
	if err = s.write(b, cs); err != nil {
		return err
	}

	// Wait
	if s.o.RealTime {
		astikit.Sleep(ctx, b.Duration) //nolint: errcheck
	}

	// Update position
	s.m.Lock()
	s.ok = true
	s.position = b.End()
	s.m.Unlock()
	return nil
}

func (s *Sink) write(b *mediaflow.AudioBlock, cs [][]float64) error {
	// Lock
	s.m.Lock()
	defer s.m.Unlock()

	// Create encoder
	if s.e == nil {
		s.f = Format{
			BitDepth:   16,
			Channels:   b.Channels,
			SampleRate: b.SampleRate,
		}
		s.e = wav.NewEncoder(s.w, s.f.SampleRate, s.f.BitDepth, s.f.Channels, 1)
		s.c.AddWithError(s.e.Close)
	} else if b.Channels != s.f.Channels || b.SampleRate != s.f.SampleRate {
		return fmt.Errorf("wavmedia: block format %dHz %dch differs from %dHz %dch: %w", b.SampleRate, b.Channels, s.f.SampleRate, s.f.Channels, mediaflow.ErrUnsupported)
	}

	// Interleave
	buf := &audio.IntBuffer{
		Data:           make([]int, len(cs[0])*len(cs)),
		Format:         &audio.Format{NumChannels: s.f.Channels, SampleRate: s.f.SampleRate},
		SourceBitDepth: s.f.BitDepth,
	}
	for c := range cs {
		for i, v := range cs[c] {
			buf.Data[i*len(cs)+c] = int(math.Max(-1, math.Min(1, v)) * math.MaxInt16)
		}
	}

	// Write
	if err := s.e.Write(buf); err != nil {
		return fmt.Errorf("wavmedia: writing failed: %w", err)
	}
	return nil
}

func (s *Sink) ConsumedPosition() (time.Duration, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	return s.position, s.ok
}

func (s *Sink) Flush() {
	s.m.Lock()
	defer s.m.Unlock()
	s.ok = false
}
